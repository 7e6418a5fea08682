package errcode

import (
	"context"
	"errors"

	"dhtnode-go/drivers/dht"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	InvalidPeriod     Code = "invalid_period"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"
	InvalidTopic      Code = "invalid_topic"

	UnknownPin    Code = "unknown_pin"
	UnknownSensor Code = "unknown_sensor"
	Timeout       Code = "timeout"
	NoResponse    Code = "no_response"
	Checksum      Code = "checksum"
	NotReady      Code = "not_ready"

	Error Code = "error" // generic fallback
)

// E wraps a Code with the operation, a message and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap attaches a code and operation to err. A nil err stays nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Msg: err.Error(), Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return MapDriverErr(err)
}

// MapDriverErr maps low-level driver errors to a Code.
func MapDriverErr(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, dht.ErrNoResponse):
		return NoResponse
	case errors.Is(err, dht.ErrChecksum):
		return Checksum
	case errors.Is(err, dht.ErrNotReady):
		return NotReady
	case errors.Is(err, dht.ErrUnknownModel):
		return UnknownSensor
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	default:
		return Error
	}
}
