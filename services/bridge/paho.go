package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Broker is the MQTT side of the link.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	// Lost yields once when an established connection drops.
	Lost() <-chan error
	Close()
}

// Dialer builds an unconnected Broker for a config.
type Dialer func(cfg Config, log *slog.Logger) (Broker, error)

// Dial is the Dialer used by Start.
var Dial Dialer = dialPaho

const opTimeout = 5 * time.Second

type pahoBroker struct {
	client mqtt.Client
	lost   chan error
	log    *slog.Logger
}

func dialPaho(cfg Config, log *slog.Logger) (Broker, error) {
	if cfg.Broker == "" {
		return nil, errors.New("broker is required")
	}
	b := &pahoBroker{lost: make(chan error, 1), log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(opTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetWill(cfg.Prefix+"/bridge/state", `{"level":"down","status":"connection_lost"}`, cfg.QoS, true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Debug("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case b.lost <- err:
		default:
		}
	})
	b.client = mqtt.NewClient(opts)
	return b, nil
}

func (b *pahoBroker) Connect(ctx context.Context) error {
	tok := b.client.Connect()
	for !tok.WaitTimeout(200 * time.Millisecond) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (b *pahoBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(b.client.Publish(topic, qos, retained, payload), "publish "+topic)
}

func (b *pahoBroker) Subscribe(topic string, qos byte, handler func(string, []byte)) error {
	tok := b.client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	return wait(tok, "subscribe "+topic)
}

func (b *pahoBroker) Lost() <-chan error { return b.lost }

func (b *pahoBroker) Close() {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

func wait(tok mqtt.Token, op string) error {
	if !tok.WaitTimeout(opTimeout) {
		return fmt.Errorf("mqtt %s: timeout", op)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", op, err)
	}
	return nil
}
