// services/hal/platform/sim.go
package platform

import (
	"sync"

	"dhtnode-go/drivers/dht"
	"dhtnode-go/drivers/dht/dhtsim"
)

// SimLines serves simulated sensors, one per pin, all of the same model.
type SimLines struct {
	mu     sync.Mutex
	model  dht.Model
	deciC  int32
	deciRH int32
	lines  map[int]*dhtsim.Line
}

// NewSimLines creates simulated sensors starting at the given reading.
func NewSimLines(model dht.Model, deciC, deciRH int32) *SimLines {
	return &SimLines{model: model, deciC: deciC, deciRH: deciRH, lines: map[int]*dhtsim.Line{}}
}

func (s *SimLines) Line(pin int) (dht.Line, error) {
	return s.Sim(pin), nil
}

// Sim returns the simulated sensor on pin, creating it on first use.
func (s *SimLines) Sim(pin int) *dhtsim.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[pin]
	if !ok {
		l = dhtsim.New(s.model, s.deciC, s.deciRH)
		s.lines[pin] = l
	}
	return l
}
