// Package config publishes the node configuration on the bus. Each
// top-level key becomes a retained config/<key> message that services
// subscribe to.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"dhtnode-go/bus"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = ctxKey("device") // context key used for device ID
)

type ctxKey string

// ErrNoConfig is returned when no configuration can be resolved.
var ErrNoConfig = errors.New("config: no configuration")

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = embeddedConfig

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	// Values, when set, is published instead of the embedded configuration,
	// typically the contents of a config file.
	Values map[string]any
	log    *slog.Logger
}

func NewConfigService(log *slog.Logger) *ConfigService {
	if log == nil {
		log = slog.Default()
	}
	return &ConfigService{Name: serviceName, log: log.With("service", serviceName)}
}

// Publish resolves the configuration and publishes it as retained
// messages. The device id is taken from ctx under CtxDeviceKey.
func (s *ConfigService) Publish(ctx context.Context, conn *bus.Connection) error {
	m := s.Values
	if m == nil {
		device, _ := ctx.Value(CtxDeviceKey).(string)
		if device == "" {
			return fmt.Errorf("%w: missing device ID in context", ErrNoConfig)
		}
		raw, ok := EmbeddedConfigLookup(device)
		if !ok || len(raw) == 0 {
			return fmt.Errorf("%w: no embedded config for device %q", ErrNoConfig, device)
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("config %q: %w", device, err)
		}
	}
	if len(m) == 0 {
		return ErrNoConfig
	}
	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
		s.log.Debug("published", "key", k)
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.Publish(ctx, conn); err != nil {
			s.log.Error("publish config", "err", err)
		}
	}()
}
