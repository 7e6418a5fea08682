// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dhtnode-go/bus"
	"dhtnode-go/services/hal"
	"dhtnode-go/types"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		conn:       conn,
		log:        log.With("service", "bridge"),
		stateTopic: StateTopic,
		dial:       Dial,
	}
	s.run(ctx)
}

var (
	StateTopic  = bus.T("bridge", "state")
	ConfigTopic = bus.T("config", "bridge")
)

// Forwarded bus subtrees.
var forwarded = []bus.Topic{
	bus.T("hal", bus.WildAll),
	bus.T("node", bus.WildAll),
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Broker   string `json:"broker"` // e.g. "tcp://localhost:1883"
	ClientID string `json:"client_id"`
	Prefix   string `json:"prefix"` // MQTT topic prefix
	QoS      byte   `json:"qos"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// RequestTimeoutMS bounds bus requests made for MQTT control messages.
	RequestTimeoutMS int `json:"request_timeout_ms,omitempty"`
}

func (c *Config) validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos %d out of range", c.QoS)
	}
	if c.ClientID == "" {
		c.ClientID = "dhtnode"
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if c.Prefix == "" {
		c.Prefix = "dhtnode"
	}
	if c.RequestTimeoutMS <= 0 {
		c.RequestTimeoutMS = 5000
	}
	return nil
}

// State is the retained payload on bridge/state.
type State struct {
	Level  string `json:"level"`  // "idle", "up", "degraded", "error"
	Status string `json:"status"` // short machine string
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ns"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	log        *slog.Logger
	stateTopic bus.Topic
	dial       Dialer

	mu     sync.Mutex
	curRun context.CancelFunc
	done   chan struct{}
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(ConfigTopic)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			var cfg Config
			if err := hal.DecodeJSON(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if err := cfg.validate(); err != nil {
				s.publishState("error", "config_invalid", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	cancel, done := s.curRun, s.done
	s.curRun, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.stopCurrent()
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.mu.Lock()
	s.curRun, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.runLink(ctx, cfg)
	}()
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	backoff := backoffSeq(250*time.Millisecond, 30*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		br, err := s.dial(cfg, s.log)
		if err != nil {
			s.publishState("error", "transport_init_failed", err)
			return
		}
		if err := br.Connect(ctx); err != nil {
			br.Close()
			if ctx.Err() != nil {
				return
			}
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.log.Info("link established", "broker", cfg.Broker)
		s.publishState("up", "link_established", nil)
		err = s.handleLink(ctx, br, cfg)
		br.Close()
		if err == nil {
			return
		}
		backoff = backoffSeq(250*time.Millisecond, 30*time.Second)
		delay := backoff()
		s.log.Warn("link lost", "err", err, "retry_in", delay)
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

type inbound struct {
	topic   string
	payload []byte
}

// handleLink owns the active link lifetime. It returns nil when ctx ends
// and an error when the link fails.
func (s *Service) handleLink(parent context.Context, br Broker, cfg Config) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	in := make(chan inbound, 16)
	ctrl := cfg.Prefix + "/hal/cap/+/+/+/control/+"
	err := br.Subscribe(ctrl, cfg.QoS, func(topic string, payload []byte) {
		select {
		case in <- inbound{topic: topic, payload: append([]byte(nil), payload...)}:
		default:
			s.log.Warn("control dropped, queue full", "topic", topic)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ctrl, err)
	}

	subs := make([]*bus.Subscription, 0, len(forwarded))
	for _, t := range forwarded {
		subs = append(subs, s.conn.Subscribe(t))
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
	}()
	// Single fan-in so the select below stays fixed-size.
	out := make(chan *bus.Message, 64)
	for _, sub := range subs {
		go func(ch <-chan *bus.Message) {
			for m := range ch {
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}(sub.Channel())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-br.Lost():
			if err == nil {
				err = errors.New("connection lost")
			}
			return err
		case m := <-out:
			if err := s.forward(br, cfg, m); err != nil {
				return err
			}
		case msg := <-in:
			go s.request(ctx, br, cfg, msg)
		}
	}
}

// forward publishes a bus message on MQTT as JSON. Control requests stay on
// the bus.
func (s *Service) forward(br Broker, cfg Config, m *bus.Message) error {
	if _, leaf, ok := hal.ParseCapTopic(m.Topic); ok && len(leaf) > 0 && leaf[0] == hal.LeafControl {
		return nil
	}
	var payload []byte
	if m.Payload != nil {
		b, err := json.Marshal(m.Payload)
		if err != nil {
			s.log.Warn("unencodable payload", "topic", m.Topic.String(), "err", err)
			return nil
		}
		payload = b
	}
	return br.Publish(cfg.Prefix+"/"+m.Topic.String(), cfg.QoS, m.Retained, payload)
}

// request turns an MQTT control message into a bus request and publishes
// the reply on <topic>/reply.
func (s *Service) request(ctx context.Context, br Broker, cfg Config, msg inbound) {
	rest := strings.TrimPrefix(msg.topic, cfg.Prefix+"/")
	parts := strings.Split(rest, "/")
	topic := make(bus.Topic, len(parts))
	for i, p := range parts {
		topic[i] = p
	}

	var reply any
	if addr, leaf, ok := hal.ParseCapTopic(topic); !ok || len(leaf) != 2 || leaf[0] != hal.LeafControl {
		reply = types.ErrorReply{Error: "invalid_topic"}
	} else {
		var payload any
		if len(msg.payload) > 0 {
			if err := json.Unmarshal(msg.payload, &payload); err != nil {
				payload = string(msg.payload)
			}
		}
		rctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.RequestTimeoutMS)*time.Millisecond)
		m, err := s.conn.RequestWait(rctx, s.conn.NewMessage(topic, payload, false))
		cancel()
		if err != nil {
			s.log.Warn("control request failed", "cap", addr.String(), "err", err)
			reply = types.ErrorReply{Error: "timeout"}
		} else {
			reply = m.Payload
		}
	}
	b, err := json.Marshal(reply)
	if err != nil {
		b = []byte(`{"ok":false,"error":"error"}`)
	}
	if err := br.Publish(msg.topic+"/reply", cfg.QoS, false, b); err != nil {
		s.log.Warn("reply publish failed", "topic", msg.topic, "err", err)
	}
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	st := State{Level: level, Status: status, TS: time.Now().UnixNano()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
