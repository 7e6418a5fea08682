// services/hal/platform/lines_other.go
//go:build !linux

package platform

import (
	"errors"

	"dhtnode-go/drivers/dht"
)

// ErrNoGPIO is returned where no GPIO backend exists.
var ErrNoGPIO = errors.New("platform: GPIO lines are only available on linux")

// GPIOLines is unavailable on this platform; use SimLines.
type GPIOLines struct{}

func NewGPIOLines() (*GPIOLines, error) { return nil, ErrNoGPIO }

func (*GPIOLines) Line(int) (dht.Line, error) { return nil, ErrNoGPIO }
