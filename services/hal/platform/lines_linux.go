// services/hal/platform/lines_linux.go
//go:build linux

package platform

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"dhtnode-go/drivers/dht"
)

// maxPulses covers the host release pulse, the sensor response and 40 bits.
const maxPulses = 42

// GPIOLines opens DHT lines on host GPIOs through periph.
type GPIOLines struct {
	mu    sync.Mutex
	lines map[int]*gpioLine
}

// NewGPIOLines initialises the periph host drivers.
func NewGPIOLines() (*GPIOLines, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &GPIOLines{lines: map[int]*gpioLine{}}, nil
}

// Line returns the line for BCM pin number pin ("GPIO<pin>").
func (g *GPIOLines) Line(pin int) (dht.Line, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.lines[pin]; ok {
		return l, nil
	}
	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %s not found", name)
	}
	l := &gpioLine{pin: p}
	g.lines[pin] = l
	return l, nil
}

type gpioLine struct {
	mu  sync.Mutex
	pin gpio.PinIO
}

// Exchange drives the start signal and samples the line until maxPulses
// high pulses were seen or timeout expires.
func (l *gpioLine) Exchange(hold, timeout time.Duration) ([]time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("%s: start signal: %w", l.pin, err)
	}
	time.Sleep(hold)
	if err := l.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%s: release: %w", l.pin, err)
	}

	pulses := make([]time.Duration, 0, maxPulses)
	deadline := time.Now().Add(timeout)
	level := l.pin.Read()
	var rise time.Time
	if level == gpio.High {
		rise = time.Now()
	}
	for len(pulses) < maxPulses {
		now := time.Now()
		if now.After(deadline) {
			break
		}
		cur := l.pin.Read()
		if cur == level {
			continue
		}
		level = cur
		if cur == gpio.High {
			rise = now
		} else if !rise.IsZero() {
			pulses = append(pulses, now.Sub(rise))
		}
	}
	return pulses, nil
}
