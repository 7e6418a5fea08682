package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"dhtnode-go/bus"
	"dhtnode-go/drivers/dht"
	"dhtnode-go/internal/options"
	"dhtnode-go/services/bridge"
	"dhtnode-go/services/config"
	"dhtnode-go/services/hal"
	_ "dhtnode-go/services/hal/devices/dht"
	"dhtnode-go/services/hal/platform"
	"dhtnode-go/services/heartbeat"
	"dhtnode-go/services/metrics"
)

const busQueueLen = 16

// Simulated sensors start at 21.5 °C and 48 %RH.
const (
	simDeciC  = 215
	simDeciRH = 480
)

func lineFactory(opts options.Options) (hal.LineFactory, error) {
	if opts.Simulate {
		return platform.NewSimLines(dht.DHT22, simDeciC, simDeciRH), nil
	}
	lines, err := platform.NewGPIOLines()
	if err != nil {
		return nil, fmt.Errorf("gpio: %w (use --simulate without hardware)", err)
	}
	return lines, nil
}

func run(parent context.Context, v *viper.Viper, opts options.Options, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	values, err := options.ServiceConfig(v, opts)
	if err != nil {
		return err
	}
	lines, err := lineFactory(opts)
	if err != nil {
		return err
	}
	log.Info("starting", "version", Version, "profile", opts.Profile(), "simulate", opts.Simulate)

	b := bus.NewBus(busQueueLen)

	go hal.Run(ctx, b.NewConnection("hal"), hal.Options{Lines: lines, Logger: log})

	m := metrics.NewMetrics()
	go m.Run(ctx, b.NewConnection("metrics"))
	serveErr := make(chan error, 1)
	if opts.MetricsAddr != "" {
		go func() { serveErr <- m.Serve(ctx, opts.MetricsAddr, log) }()
	}

	if err := heartbeat.New(log).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		return err
	}
	go bridge.Start(ctx, b.NewConnection("bridge"), log)

	cs := config.NewConfigService(log)
	cs.Values = values
	cs.Start(ctx, b.NewConnection("config"))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			return fmt.Errorf("metrics: %w", err)
		}
	}
	log.Info("shutting down")
	return nil
}
