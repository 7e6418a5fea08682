// Package dhtdev exposes a DHT11/DHT22/AM2302 sensor as a component with
// pin and sensor configuration values and polled temperature and humidity
// values, and adapts it to the HAL.
package dhtdev

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dhtnode-go/drivers/dht"
	"dhtnode-go/errcode"
	"dhtnode-go/services/hal"
	"dhtnode-go/services/hal/internal/values"
	"dhtnode-go/types"
)

// Identity reported by every DHT component.
var Identity = types.ComponentInfo{
	OID:          "rpibasic.dht",
	Name:         "Input",
	Product:      "DHT",
	ProductType:  "Temperature/humidity sensor",
	Manufacturer: "Janitoo",
}

// Value uuids.
const (
	ValuePin         = "pin"
	ValueSensor      = "sensor"
	ValueTemperature = "temperature"
	ValueHumidity    = "humidity"
)

// Params are the device params accepted in HAL config.
type Params struct {
	Pin           int `json:"pin"`
	Sensor        int `json:"sensor"`
	PollS         int `json:"poll_s"`
	Retries       int `json:"retries,omitempty"`
	RetryDelayMs  int `json:"retry_delay_ms,omitempty"`
	MinIntervalMs int `json:"min_interval_ms,omitempty"`
}

// DefaultParams are the values used for keys absent from the config.
func DefaultParams() Params {
	return Params{Pin: 1, Sensor: 11, PollS: values.DefaultPollS}
}

func (p *Params) defaults() {
	if p.PollS <= 0 {
		p.PollS = values.DefaultPollS
	}
}

// Component reads one DHT sensor. Reads are serialised; the driver is
// reopened when the pin or sensor type changes.
type Component struct {
	id     string
	lines  hal.LineFactory
	log    *slog.Logger
	drvCfg dht.Config
	values *values.Set

	pin, sensor, temp, hum *values.Value

	mu     sync.Mutex
	drv    *dht.Device
	drvPin int
	drvTyp int
}

// New builds a component. The sensor type must be 11, 22 or 2302; pin and
// sensor are taken as given, so start from DefaultParams.
func New(id string, p Params, lines hal.LineFactory, log *slog.Logger) (*Component, error) {
	p.defaults()
	if _, err := dht.ModelFromCode(p.Sensor); err != nil {
		return nil, errcode.Wrap(errcode.UnknownSensor, "dht", fmt.Errorf("%d: %w", p.Sensor, err))
	}
	if p.Pin < 0 {
		return nil, errcode.Wrap(errcode.UnknownPin, "dht", fmt.Errorf("pin %d", p.Pin))
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Component{
		id:     id,
		lines:  lines,
		log:    log.With("node", id),
		values: values.NewSet(),
		drvCfg: dht.Config{
			Retries:     p.Retries,
			RetryDelay:  time.Duration(p.RetryDelayMs) * time.Millisecond,
			MinInterval: time.Duration(p.MinIntervalMs) * time.Millisecond,
		},
	}
	c.pin = values.ConfigInt(ValuePin, "Pin", "The pin number on the board", p.Pin)
	c.sensor = values.ConfigInt(ValueSensor, "Type", "The sensor type : 11,22,2302", p.Sensor)
	c.temp = values.SensorTemperature(ValueTemperature, "Temp", "The temperature",
		func(ctx context.Context, index int) (any, error) { return c.Temperature(ctx, index) })
	c.hum = values.SensorHumidity(ValueHumidity, "Hum", "The humidity",
		func(ctx context.Context, index int) (any, error) { return c.Humidity(ctx, index) })

	for _, v := range []*values.Value{
		c.pin, c.sensor,
		c.temp, c.temp.PollValue(p.PollS),
		c.hum, c.hum.PollValue(p.PollS),
	} {
		if err := c.values.Add(v); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Component) ID() string { return c.id }

// Values exposes the component's value set.
func (c *Component) Values() *values.Set { return c.values }

// Temperature reads the sensor and returns the temperature in °C. Both
// values are stored for index.
func (c *Component) Temperature(ctx context.Context, index int) (float64, error) {
	t, _, err := c.read(ctx, index)
	if err != nil {
		c.log.Error("retrieving temperature", "index", index, "err", err)
		return 0, err
	}
	return float64(t) / 10, nil
}

// Humidity reads the sensor and returns the relative humidity in %. Both
// values are stored for index.
func (c *Component) Humidity(ctx context.Context, index int) (float64, error) {
	_, rh, err := c.read(ctx, index)
	if err != nil {
		c.log.Error("retrieving humidity", "index", index, "err", err)
		return 0, err
	}
	return float64(rh) / 10, nil
}

// read performs one locked ReadRetry and stores both values. It returns
// deci-°C and deci-%RH.
func (c *Component) read(ctx context.Context, index int) (deciC, deciRH int32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	drv, err := c.driverLocked(index)
	if err != nil {
		return 0, 0, err
	}
	if err := drv.ReadRetry(ctx); err != nil {
		return 0, 0, errcode.Wrap(errcode.MapDriverErr(err), "dht read", err)
	}
	deciC, deciRH = drv.DeciCelsius(), drv.DeciRelHumidity()
	c.temp.Set(index, float64(deciC)/10)
	c.hum.Set(index, float64(deciRH)/10)
	return deciC, deciRH, nil
}

// driverLocked returns a driver for the pin and sensor configured at index.
func (c *Component) driverLocked(index int) (*dht.Device, error) {
	pin, err := c.pin.Int(index)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidParams, "dht", err)
	}
	code, err := c.sensor.Int(index)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidParams, "dht", err)
	}
	if c.drv != nil && pin == c.drvPin && code == c.drvTyp {
		return c.drv, nil
	}
	model, err := dht.ModelFromCode(code)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownSensor, "dht", fmt.Errorf("%d: %w", code, err))
	}
	line, err := c.lines.Line(pin)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownPin, "dht", err)
	}
	cfg := c.drvCfg
	cfg.Model = model
	c.drv, c.drvPin, c.drvTyp = dht.New(line, cfg), pin, code
	c.log.Debug("driver opened", "pin", pin, "sensor", model.String())
	return c.drv, nil
}

// ReadyIn reports how long until the sensor accepts another frame.
func (c *Component) ReadyIn() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drv == nil {
		return 0
	}
	return c.drv.ReadyIn()
}

// CheckHeartbeat reports whether the component is available: the
// temperature value exists and holds data.
func (c *Component) CheckHeartbeat() bool {
	v, ok := c.values.Get(ValueTemperature)
	return ok && v.HasData()
}

// Configure changes pin and/or sensor type at an index. The sensor type is
// validated; the driver is reopened on the next read.
func (c *Component) Configure(req types.DHTConfigure) error {
	if req.Sensor != nil {
		if _, err := dht.ModelFromCode(*req.Sensor); err != nil {
			return errcode.Wrap(errcode.UnknownSensor, "configure", fmt.Errorf("%d: %w", *req.Sensor, err))
		}
	}
	if req.Pin != nil && *req.Pin < 0 {
		return errcode.Wrap(errcode.UnknownPin, "configure", fmt.Errorf("pin %d", *req.Pin))
	}
	if req.Pin != nil {
		c.pin.Set(req.Index, *req.Pin)
	}
	if req.Sensor != nil {
		c.sensor.Set(req.Index, *req.Sensor)
	}
	return nil
}

// PollPeriod returns the poll period of a sensor value from its companion.
func (c *Component) PollPeriod(uuid string) time.Duration {
	v, ok := c.values.Get(uuid + values.PollSuffix)
	if !ok {
		return 0
	}
	n, err := v.Int(0)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// SetPollPeriod stores a new poll period, in seconds, for a sensor value.
func (c *Component) SetPollPeriod(uuid string, seconds int) error {
	v, ok := c.values.Get(uuid + values.PollSuffix)
	if !ok {
		return errcode.Wrap(errcode.UnknownCapability, "set_rate", fmt.Errorf("no poll value for %q", uuid))
	}
	if seconds <= 0 {
		return errcode.InvalidPeriod
	}
	v.Set(0, seconds)
	return nil
}

// Describe snapshots identity and values.
func (c *Component) Describe() types.Description {
	return types.Description{Component: Identity, Values: c.values.Describe()}
}
