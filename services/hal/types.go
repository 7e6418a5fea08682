// services/hal/types.go
package hal

import (
	"context"
	"time"

	"dhtnode-go/drivers/dht"
	"dhtnode-go/types"
)

// Reading is one datum for one capability kind.
type Reading struct {
	Kind    types.Kind
	Payload any   // JSON-serialisable, fixed-point
	TS      int64 // producer timestamp, Unix ns
}

// Sample is a batch of readings collected together.
type Sample []Reading

// CapInfo describes one capability and its retained info document.
type CapInfo struct {
	Domain string
	Kind   types.Kind
	Info   types.Info
	// Every is the initial polling period; zero means the capability is not polled.
	Every time.Duration
}

// Adaptor owns a concrete device/driver and exposes generic hooks.
// Adaptors must NOT touch the bus or spawn goroutines.
type Adaptor interface {
	ID() string
	// Static capability descriptions (published as retained).
	Capabilities() []CapInfo
	// Trigger prepares a measurement and returns the suggested wait until Collect.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	// Collect fetches a measurement batch; may return ErrNotReady.
	Collect(ctx context.Context) (Sample, error)
	// Control handles driver-specific methods for a capability kind.
	// Return (nil, ErrUnsupported) if not implemented.
	Control(kind types.Kind, method string, payload any) (result any, err error)
}

// WorkerConfig centralises timings and limits.
type WorkerConfig struct {
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	InputQueueSize int
	ResultsQueueSz int
}

// MeasureReq asks the worker to trigger/collect for a given adaptor.
type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Prio    bool // true for read_now
}

// Result emitted by the worker.
type Result struct {
	ID     string
	Sample Sample
	Err    error
}

// ErrNotReady signals the worker to retry Collect after backoff.
var ErrNotReady = errNotReady{}

type errNotReady struct{}

func (errNotReady) Error() string { return "not ready" }

// ErrUnsupported for adaptor Control pass-through.
var ErrUnsupported = errUnsupported{}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "unsupported" }

// LineFactory opens the single-wire line wired to a GPIO pin.
type LineFactory interface {
	Line(pin int) (dht.Line, error)
}

