package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dhtnode-go/drivers/dht"
	"dhtnode-go/internal/options"
	"dhtnode-go/services/config"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a sensor once and print the result as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := options.Load(v)
		if err != nil {
			return err
		}
		model, err := dht.ModelFromCode(v.GetInt("sensor"))
		if err != nil {
			return err
		}
		lines, err := lineFactory(opts)
		if err != nil {
			return err
		}
		line, err := lines.Line(v.GetInt("pin"))
		if err != nil {
			return err
		}
		d := dht.New(line, dht.Config{
			Model:      model,
			Retries:    v.GetInt("retries"),
			RetryDelay: v.GetDuration("retry-delay"),
		})
		if err := d.ReadRetry(cmd.Context()); err != nil {
			return fmt.Errorf("read %s on pin %d: %w", model, v.GetInt("pin"), err)
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(map[string]any{
			"sensor":      model.String(),
			"pin":         v.GetInt("pin"),
			"temperature": d.Celsius(),
			"humidity":    d.RelHumidity(),
		})
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List embedded configuration profiles",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, p := range config.EmbeddedDevices() {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
	},
}

func init() {
	f := readCmd.Flags()
	f.Int("pin", 1, "GPIO pin (BCM numbering)")
	f.Int("sensor", 11, "sensor type: 11, 22 or 2302")
	f.Int("retries", dht.DefaultRetries, "read attempts")
	f.Duration("retry-delay", dht.DefaultRetryDelay, "delay between attempts")
}
