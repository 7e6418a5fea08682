// Package heartbeat reports node availability. It discovers temperature
// capabilities from their retained info, asks each one for its heartbeat
// on every tick and publishes the result retained on node/<name>/heartbeat.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"dhtnode-go/bus"
	"dhtnode-go/services/hal"
	"dhtnode-go/types"
)

var topicConfigHeartbeat = bus.T("config", "heartbeat")

const (
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 2 * time.Second
)

// Config is the payload expected on config/heartbeat.
type Config struct {
	Interval float64 `json:"interval"` // seconds
}

// NodeTopic is where the heartbeat of a node is published.
func NodeTopic(name string) bus.Topic { return bus.T("node", name, "heartbeat") }

type Service struct {
	Timeout time.Duration // per request
	log     *slog.Logger
	nodes   map[string]string // name -> last state
}

func New(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Timeout: DefaultTimeout, log: log.With("service", "heartbeat")}
}

type heartbeatReply struct {
	OK     bool                 `json:"ok"`
	Result types.HeartbeatReply `json:"result"`
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)
	infoSub := conn.Subscribe(hal.CapTopic(types.DomainEnv, types.KindTemperature, bus.WildOne, hal.LeafInfo))
	defer conn.Unsubscribe(infoSub)

	s.nodes = map[string]string{}
	tick := time.NewTicker(DefaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping")
			return

		case msg := <-cfgSub.Channel():
			var cfg Config
			if err := hal.DecodeJSON(msg.Payload, &cfg); err != nil || cfg.Interval <= 0 {
				s.log.Warn("ignoring config", "payload", msg.Payload, "err", err)
				continue
			}
			iv := time.Duration(cfg.Interval * float64(time.Second))
			tick.Reset(iv)
			s.log.Info("interval set", "interval", iv)

		case msg := <-infoSub.Channel():
			addr, _, ok := hal.ParseCapTopic(msg.Topic)
			if !ok {
				continue
			}
			if msg.Payload == nil {
				if _, known := s.nodes[addr.Name]; known {
					delete(s.nodes, addr.Name)
					s.publish(conn, addr.Name, types.NodeOffline)
				}
				continue
			}
			if _, known := s.nodes[addr.Name]; !known {
				s.nodes[addr.Name] = ""
				s.log.Debug("node discovered", "node", addr.Name)
			}

		case <-tick.C:
			for name := range s.nodes {
				state := types.NodeOffline
				if s.check(ctx, conn, name) {
					state = types.NodeOnline
				}
				if prev := s.nodes[name]; prev != state {
					s.log.Info("node state", "node", name, "state", state)
				}
				s.nodes[name] = state
				s.publish(conn, name, state)
			}
		}
	}
}

// check asks the component behind name whether it is available.
func (s *Service) check(ctx context.Context, conn *bus.Connection, name string) bool {
	rctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	topic := hal.ControlTopic(types.DomainEnv, types.KindTemperature, name, "heartbeat")
	reply, err := conn.RequestWait(rctx, conn.NewMessage(topic, nil, false))
	if err != nil {
		s.log.Debug("heartbeat request failed", "node", name, "err", err)
		return false
	}
	var r heartbeatReply
	if err := hal.DecodeJSON(reply.Payload, &r); err != nil {
		return false
	}
	return r.OK && r.Result.Alive
}

func (s *Service) publish(conn *bus.Connection, name, state string) {
	conn.Publish(conn.NewMessage(NodeTopic(name),
		types.NodeHeartbeat{State: state, TS: time.Now().UnixNano()}, true))
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
