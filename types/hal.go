package types

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string `json:"level"`           // "idle", "ready", "error", "stopped"
	Status string `json:"status"`          // short code
	Error  string `json:"error,omitempty"` // detail for Level "error"
	TS     int64  `json:"ts_ns"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityStatus struct {
	Link  Link   `json:"link"`
	TS    int64  `json:"ts_ns"`
	Error string `json:"error,omitempty"` // errcode.Code of the last failure
}

// ------------------------
// HAL configuration (config/hal)
// ------------------------

type HALConfig struct {
	Devices []HALDevice `json:"devices"`
}

type HALDevice struct {
	ID     string `json:"id"`               // logical device id, also the capability name
	Type   string `json:"type"`             // builder key, e.g. "dht"
	Params any    `json:"params,omitempty"` // device-specific, decoded by the builder
}

// ------------------------
// Controls
// ------------------------

// SetRate changes the polling period of one capability (verb "set_rate").
type SetRate struct {
	PeriodS int `json:"period_s"`
}

// RateReply answers set_rate with the period actually applied.
type RateReply struct {
	OK      bool `json:"ok"`
	PeriodS int  `json:"period_s"`
}

// ------------------------
// Generic replies
// ------------------------

type OKReply struct {
	OK     bool `json:"ok"`
	Result any  `json:"result,omitempty"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ------------------------
// Info envelope (retained)
// ------------------------

type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Driver        string `json:"driver"`
	Detail        any    `json:"detail,omitempty"` // *Info types below
}
