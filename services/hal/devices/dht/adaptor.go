package dhtdev

import (
	"context"
	"time"

	"dhtnode-go/drivers/dht"
	"dhtnode-go/errcode"
	"dhtnode-go/services/hal"
	"dhtnode-go/types"
	"dhtnode-go/x/mathx"
)

// adaptor exposes a Component at one index as env/temperature and
// env/humidity capabilities.
type adaptor struct {
	c     *Component
	index int
}

var _ hal.Adaptor = (*adaptor)(nil)

// NewAdaptor wraps c for the HAL, reading and storing data at index.
func NewAdaptor(c *Component, index int) hal.Adaptor {
	return &adaptor{c: c, index: index}
}

func (a *adaptor) ID() string { return a.c.id }

func (a *adaptor) Capabilities() []hal.CapInfo {
	pin, _ := a.c.pin.Int(a.index)
	code, _ := a.c.sensor.Int(a.index)
	sensor := sensorName(code)
	return []hal.CapInfo{
		{
			Domain: types.DomainEnv,
			Kind:   types.KindTemperature,
			Info: types.Info{
				SchemaVersion: 1, Driver: "dht",
				Detail: types.TemperatureInfo{Sensor: sensor, Type: code, Pin: pin, Units: "°C"},
			},
			Every: a.c.PollPeriod(ValueTemperature),
		},
		{
			Domain: types.DomainEnv,
			Kind:   types.KindHumidity,
			Info: types.Info{
				SchemaVersion: 1, Driver: "dht",
				Detail: types.HumidityInfo{Sensor: sensor, Type: code, Pin: pin, Units: "%"},
			},
			Every: a.c.PollPeriod(ValueHumidity),
		},
	}
}

// Trigger does not touch the line; it only reports how long the sensor
// needs before it accepts another frame.
func (a *adaptor) Trigger(context.Context) (time.Duration, error) {
	return a.c.ReadyIn(), nil
}

func (a *adaptor) Collect(ctx context.Context) (hal.Sample, error) {
	deciC, deciRH, err := a.c.read(ctx, a.index)
	if err != nil {
		a.c.log.Error("retrieving temperature/humidity", "index", a.index, "err", err)
		return nil, err
	}
	ts := time.Now().UnixNano()
	decic := mathx.Clamp(deciC, -32768, 32767)
	rhx100 := mathx.Clamp(deciRH*10, 0, 10000)
	return hal.Sample{
		{Kind: types.KindTemperature, Payload: types.TemperatureValue{DeciC: int16(decic), Index: a.index}, TS: ts},
		{Kind: types.KindHumidity, Payload: types.HumidityValue{RHx100: uint16(rhx100), Index: a.index}, TS: ts},
	}, nil
}

func (a *adaptor) Control(kind types.Kind, method string, payload any) (any, error) {
	switch method {
	case "get":
		req := types.ValueGet{Index: a.index}
		if err := hal.DecodeJSON(payload, &req); err != nil {
			return nil, errcode.InvalidPayload
		}
		v, ok := a.c.values.Get(uuidFor(kind))
		if !ok {
			return nil, errcode.UnknownCapability
		}
		return v.Data(req.Index), nil

	case "describe":
		return a.c.Describe(), nil

	case "heartbeat":
		return types.HeartbeatReply{Alive: a.c.CheckHeartbeat()}, nil

	case "configure":
		var req types.DHTConfigure
		if err := hal.DecodeJSON(payload, &req); err != nil {
			return nil, errcode.InvalidPayload
		}
		if err := a.c.Configure(req); err != nil {
			return nil, err
		}
		return a.c.Describe(), nil

	case "set_rate":
		var req types.SetRate
		if err := hal.DecodeJSON(payload, &req); err != nil {
			return nil, errcode.InvalidPayload
		}
		if err := a.c.SetPollPeriod(uuidFor(kind), req.PeriodS); err != nil {
			return nil, err
		}
		return req, nil

	default:
		return nil, hal.ErrUnsupported
	}
}

func uuidFor(kind types.Kind) string {
	if kind == types.KindHumidity {
		return ValueHumidity
	}
	return ValueTemperature
}

func sensorName(code int) string {
	m, _ := dht.ModelFromCode(code)
	return m.String()
}
