// Command dhtnode polls DHT11/DHT22/AM2302 sensors and publishes their
// temperature and humidity on the message bus, optionally bridged to MQTT.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"dhtnode-go/internal/logging"
	"dhtnode-go/internal/options"
)

var Version = "dev"

var v = options.New()

var Cmd = &cobra.Command{
	Use:     "dhtnode",
	Short:   "DHT temperature/humidity node",
	Version: Version,
	Args:    cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		opts, err := options.Load(v)
		if err != nil {
			return err
		}
		log, err := newLogger(opts)
		if err != nil {
			return err
		}
		slog.SetDefault(log)
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := options.Load(v)
		if err != nil {
			return err
		}
		return run(cmd.Context(), v, opts, slog.Default())
	},
}

func newLogger(opts options.Options) (*slog.Logger, error) {
	level, err := logging.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, level, opts.LogFormat, Version)
}

func init() {
	pf := Cmd.PersistentFlags()
	pf.String(options.KeyConfigFile, "", "config `file` (yaml, json or toml)")
	pf.String(options.KeyLogLevel, "info", "log level: debug, info, warn, error")
	pf.String(options.KeyLogFormat, "auto", "log format: auto, text, json")
	pf.Bool(options.KeySimulate, false, "use simulated sensors instead of GPIO")

	f := Cmd.Flags()
	f.String(options.KeyDevice, "rpi", "embedded configuration profile")
	f.String(options.KeyMetricsAddr, ":9102", "metrics listen `address` (empty disables)")
	f.String(options.KeyBroker, "", "MQTT broker `url`, overrides the bridge config")

	Cmd.AddCommand(readCmd, profilesCmd)
}

func main() {
	cobra.EnableTraverseRunHooks = true
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
