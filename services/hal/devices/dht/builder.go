package dhtdev

import (
	"errors"
	"fmt"
	"time"

	"dhtnode-go/drivers/dht"
	"dhtnode-go/errcode"
	"dhtnode-go/services/hal"
)

func init() { hal.RegisterBuilder("dht", builder{}) }

type builder struct{}

func (builder) Build(in hal.BuildInput) (hal.BuildOutput, error) {
	if in.Lines == nil {
		return hal.BuildOutput{}, errcode.Wrap(errcode.HALNotReady, "dht", errors.New("no line factory"))
	}
	p := DefaultParams()
	if err := hal.DecodeJSON(in.Params, &p); err != nil {
		return hal.BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "dht", err)
	}
	c, err := New(in.DeviceID, p, in.Lines, in.Logger)
	if err != nil {
		return hal.BuildOutput{}, err
	}
	// Devices configured on the same pin share one worker so their
	// exchanges never overlap on the wire.
	return hal.BuildOutput{
		Adaptor:   NewAdaptor(c, 0),
		WorkerKey: fmt.Sprintf("dht/pin/%d", p.Pin),
		Worker:    workerConfig(c.drvCfg),
	}, nil
}

// workerConfig sizes the collect timeout so a full ReadRetry fits in it.
func workerConfig(cfg dht.Config) hal.WorkerConfig {
	retries := cfg.Retries
	if retries <= 0 {
		retries = dht.DefaultRetries
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = dht.DefaultRetryDelay
	}
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	frame := cfg.FrameTimeout
	if frame <= 0 {
		frame = dht.DefaultFrameTimeout
	}
	return hal.WorkerConfig{
		TriggerTimeout: 100 * time.Millisecond,
		CollectTimeout: time.Duration(retries)*(delay+interval+frame) + time.Second,
		InputQueueSize: 4,
	}
}
