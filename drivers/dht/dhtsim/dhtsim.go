// Package dhtsim simulates a DHT sensor behind a dht.Line.
package dhtsim

import (
	"errors"
	"sync"
	"time"

	"dhtnode-go/drivers/dht"
)

// ErrLine is returned when a line fault is injected.
var ErrLine = errors.New("dhtsim: line fault")

// Line is a simulated sensor. The zero value is not usable; use New.
type Line struct {
	mu        sync.Mutex
	model     dht.Model
	deciC     int32
	deciRH    int32
	silent    int // number of upcoming exchanges with no answer
	corrupt   int // number of upcoming exchanges with a bad checksum
	lineErr   int // number of upcoming exchanges failing at the line level
	exchanges int
	lastHold  time.Duration
}

var _ dht.Line = (*Line)(nil)

// New returns a simulated sensor reporting the given reading in tenths.
func New(model dht.Model, deciC, deciRH int32) *Line {
	return &Line{model: model, deciC: deciC, deciRH: deciRH}
}

// Set changes the simulated reading.
func (l *Line) Set(deciC, deciRH int32) {
	l.mu.Lock()
	l.deciC, l.deciRH = deciC, deciRH
	l.mu.Unlock()
}

// FailNext makes the next n exchanges return no pulses.
func (l *Line) FailNext(n int) {
	l.mu.Lock()
	l.silent = n
	l.mu.Unlock()
}

// CorruptNext makes the next n exchanges carry a bad checksum.
func (l *Line) CorruptNext(n int) {
	l.mu.Lock()
	l.corrupt = n
	l.mu.Unlock()
}

// BreakNext makes the next n exchanges fail with ErrLine.
func (l *Line) BreakNext(n int) {
	l.mu.Lock()
	l.lineErr = n
	l.mu.Unlock()
}

// Exchanges returns how many frames were requested.
func (l *Line) Exchanges() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exchanges
}

// LastHold returns the start-signal hold of the last exchange.
func (l *Line) LastHold() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHold
}

func (l *Line) Exchange(hold, _ time.Duration) ([]time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exchanges++
	l.lastHold = hold

	switch {
	case l.lineErr > 0:
		l.lineErr--
		return nil, ErrLine
	case l.silent > 0:
		l.silent--
		return nil, nil
	}
	frame := dht.EncodeFrame(l.model, l.deciRH, l.deciC)
	if l.corrupt > 0 {
		l.corrupt--
		frame[4]++
	}
	return dht.Pulses(frame), nil
}
