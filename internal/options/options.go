// Package options resolves process settings from flags, DHTNODE_* environment
// variables and an optional config file.
package options

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/spf13/viper"

	"dhtnode-go/services/config"
)

const EnvPrefix = "DHTNODE"

// Keys shared by flags, environment and config file.
const (
	KeyDevice      = "device"
	KeySimulate    = "simulate"
	KeyConfigFile  = "config"
	KeyLogLevel    = "log-level"
	KeyLogFormat   = "log-format"
	KeyMetricsAddr = "metrics-addr"
	KeyBroker      = "broker"
)

// sections are the config file keys published on the bus.
var sections = []string{"hal", "heartbeat", "bridge"}

type Options struct {
	Device      string
	Simulate    bool
	ConfigFile  string
	LogLevel    string
	LogFormat   string
	MetricsAddr string // empty disables the metrics endpoint
	Broker      string // overrides bridge.broker
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDevice, "rpi")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "auto")
	v.SetDefault(KeyMetricsAddr, ":9102")
	return v
}

// Load reads the config file, when one is named, then resolves the settings.
// Flags and environment take precedence over file values.
func Load(v *viper.Viper) (Options, error) {
	file := v.GetString(KeyConfigFile)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, fmt.Errorf("read %s: %w", file, err)
		}
	}
	return Options{
		Device:      v.GetString(KeyDevice),
		Simulate:    v.GetBool(KeySimulate),
		ConfigFile:  file,
		LogLevel:    v.GetString(KeyLogLevel),
		LogFormat:   v.GetString(KeyLogFormat),
		MetricsAddr: v.GetString(KeyMetricsAddr),
		Broker:      v.GetString(KeyBroker),
	}, nil
}

// Profile is the embedded configuration used without a config file.
func (o Options) Profile() string {
	if o.Simulate {
		return "sim"
	}
	return o.Device
}

// ServiceConfig returns the per-service configuration to publish on the
// bus: the hal, heartbeat and bridge sections of the config file, or the
// embedded profile when no file was given.
func ServiceConfig(v *viper.Viper, o Options) (map[string]any, error) {
	m := map[string]any{}
	if o.ConfigFile != "" {
		for _, k := range sections {
			if v.IsSet(k) {
				m[k] = v.Get(k)
			}
		}
		if len(m) == 0 {
			return nil, fmt.Errorf("%s: no %s section", o.ConfigFile, strings.Join(sections, ", "))
		}
	} else {
		raw, ok := config.EmbeddedConfigLookup(o.Profile())
		if !ok {
			return nil, fmt.Errorf("%w: unknown device %q (have %v)", config.ErrNoConfig, o.Profile(), config.EmbeddedDevices())
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("profile %q: %w", o.Profile(), err)
		}
	}

	if o.Broker != "" {
		bridge := map[string]any{}
		if cur, ok := m["bridge"].(map[string]any); ok {
			maps.Copy(bridge, cur)
		}
		bridge["broker"] = o.Broker
		m["bridge"] = bridge
	}
	return m, nil
}
