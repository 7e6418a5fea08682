// Package dht provides a driver for the DHT11, DHT22 and AM2302
// temperature/humidity sensors.
//
// The sensors talk a timed single-wire protocol: the host holds the line low
// to request a frame, releases it, and the sensor answers with a response
// pulse followed by 40 data bits whose value is encoded in the width of each
// high pulse. Pulse capture is delegated to a Line so the driver stays
// platform independent; decoding and validation happen here.
//
//	d := dht.New(line, dht.Config{Model: dht.DHT22})
//	err := d.ReadRetry(ctx)
//	c, rh := d.Celsius(), d.RelHumidity()
//
// Readings are kept as fixed-point tenths (deci-°C and deci-%RH).
// A Device is not safe for concurrent use; callers serialise access.
package dht

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Model identifies the sensor variant.
type Model uint8

const (
	DHT11 Model = iota + 1
	DHT22
	AM2302
)

func (m Model) String() string {
	switch m {
	case DHT11:
		return "dht11"
	case DHT22:
		return "dht22"
	case AM2302:
		return "am2302"
	default:
		return "unknown"
	}
}

// Code returns the numeric sensor type used in configuration (11, 22, 2302).
func (m Model) Code() int {
	switch m {
	case DHT11:
		return 11
	case DHT22:
		return 22
	case AM2302:
		return 2302
	default:
		return 0
	}
}

// models maps configuration codes to sensor variants.
var models = map[int]Model{
	11:   DHT11,
	22:   DHT22,
	2302: AM2302,
}

// ModelFromCode resolves a configuration code; only 11, 22 and 2302 are valid.
func ModelFromCode(code int) (Model, error) {
	m, ok := models[code]
	if !ok {
		return 0, ErrUnknownModel
	}
	return m, nil
}

// Errors returned by the driver.
var (
	ErrNoResponse   = errors.New("dht: no response")
	ErrChecksum     = errors.New("dht: checksum mismatch")
	ErrNotReady     = errors.New("dht: read too soon")
	ErrUnknownModel = errors.New("dht: unknown sensor type")
)

// Line is a single bidirectional GPIO line with a DHT sensor on it.
type Line interface {
	// Exchange holds the line low for hold, releases it, and returns the
	// widths of the high pulses that followed, in order. It gives up after
	// timeout and returns whatever was captured.
	Exchange(hold, timeout time.Duration) ([]time.Duration, error)
}

// Config controls non-hardware behaviour. All fields except Model are optional.
type Config struct {
	Model Model
	// Retries is the number of attempts made by ReadRetry. Default 15.
	Retries int
	// RetryDelay separates attempts in ReadRetry. Default 2 s.
	RetryDelay time.Duration
	// MinInterval is the minimum spacing between two frames. Zero selects the
	// model default (1 s for DHT11, 2 s otherwise); negative disables it.
	MinInterval time.Duration
	// FrameTimeout bounds a single exchange. Default 10 ms.
	FrameTimeout time.Duration
}

const (
	DefaultRetries      = 15
	DefaultRetryDelay   = 2 * time.Second
	DefaultFrameTimeout = 10 * time.Millisecond
)

// Device wraps a Line connected to a DHT sensor.
type Device struct {
	line Line
	cfg  Config

	lastRead time.Time
	humidity int32 // deci-%RH
	temp     int32 // deci-°C
	valid    bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Ensure Device satisfies the tinygo sensor contract.
var _ drivers.Sensor = (*Device)(nil)

// New creates a driver. It does not touch the line.
func New(line Line, cfg Config) *Device {
	if cfg.Model == 0 {
		cfg.Model = DHT11
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = defaultMinInterval(cfg.Model)
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	return &Device{
		line:  line,
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func defaultMinInterval(m Model) time.Duration {
	if m == DHT11 {
		return time.Second
	}
	return 2 * time.Second
}

// startHold is how long the host keeps the line low to request a frame.
func startHold(m Model) time.Duration {
	if m == DHT11 {
		return 18 * time.Millisecond
	}
	return 2 * time.Millisecond
}

// ReadyIn reports how long until the sensor may be read again.
func (d *Device) ReadyIn() time.Duration {
	if d.cfg.MinInterval < 0 || d.lastRead.IsZero() {
		return 0
	}
	wait := d.cfg.MinInterval - d.now().Sub(d.lastRead)
	if wait < 0 {
		return 0
	}
	return wait
}

// Read performs a single frame exchange. It returns ErrNotReady if called
// before the minimum interval has elapsed since the previous exchange.
// On error the previous reading is kept.
func (d *Device) Read() error {
	if d.ReadyIn() > 0 {
		return ErrNotReady
	}
	d.lastRead = d.now()

	pulses, err := d.line.Exchange(startHold(d.cfg.Model), d.cfg.FrameTimeout)
	if err != nil {
		return err
	}
	var frame [5]byte
	if err := decodeFrame(pulses, &frame); err != nil {
		return err
	}
	rh, t := convert(d.cfg.Model, frame)
	d.humidity, d.temp, d.valid = rh, t, true
	return nil
}

// ReadRetry attempts up to Retries reads, waiting RetryDelay between attempts.
// It returns nil on the first success or the last error otherwise.
func (d *Device) ReadRetry(ctx context.Context) error {
	var err error
	for i := 0; i < d.cfg.Retries; i++ {
		if w := d.ReadyIn(); w > 0 {
			if serr := d.sleep(ctx, w); serr != nil {
				return serr
			}
		}
		if err = d.Read(); err == nil {
			return nil
		}
		if i == d.cfg.Retries-1 {
			break
		}
		if serr := d.sleep(ctx, d.cfg.RetryDelay); serr != nil {
			return serr
		}
	}
	return err
}

// Update implements drivers.Sensor. Only temperature and humidity are
// measured; other measurement bits are ignored.
func (d *Device) Update(which drivers.Measurement) error {
	if which&(drivers.Temperature|drivers.Humidity) == 0 {
		return nil
	}
	return d.ReadRetry(context.Background())
}

// Valid reports whether at least one frame has been decoded.
func (d *Device) Valid() bool { return d.valid }

// DeciCelsius returns the last temperature in tenths of °C.
func (d *Device) DeciCelsius() int32 { return d.temp }

// DeciRelHumidity returns the last relative humidity in tenths of %RH.
func (d *Device) DeciRelHumidity() int32 { return d.humidity }

// Temperature returns the last temperature in milli-°C (tinygo convention).
func (d *Device) Temperature() int32 { return d.temp * 100 }

// Humidity returns the last relative humidity in hundredths of %RH.
func (d *Device) Humidity() int32 { return d.humidity * 10 }

func (d *Device) Celsius() float64     { return float64(d.temp) / 10 }
func (d *Device) RelHumidity() float64 { return float64(d.humidity) / 10 }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
