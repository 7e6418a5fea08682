package types

// ------------------------
// DHT component payloads
// ------------------------

// ComponentInfo is the identity a component reports in describe replies.
type ComponentInfo struct {
	OID          string `json:"oid"`
	Name         string `json:"name"`
	Product      string `json:"product_name"`
	ProductType  string `json:"product_type"`
	Manufacturer string `json:"product_manufacturer"`
}

// ValueDescriptor is a snapshot of one component value.
type ValueDescriptor struct {
	UUID    string      `json:"uuid"`
	Label   string      `json:"label"`
	Help    string      `json:"help"`
	Units   string      `json:"units,omitempty"`
	Genre   string      `json:"genre"`
	Type    string      `json:"type"`
	Default any         `json:"default"`
	Data    map[int]any `json:"data,omitempty"` // by index
	PollOf  string      `json:"poll_of,omitempty"`
}

// Description answers the "describe" control.
type Description struct {
	Component ComponentInfo     `json:"component"`
	Values    []ValueDescriptor `json:"values"`
}

// DHTConfigure changes the pin or sensor type (verb "configure").
// Absent fields are left unchanged.
type DHTConfigure struct {
	Pin    *int `json:"pin,omitempty"`
	Sensor *int `json:"sensor,omitempty"`
	Index  int  `json:"index,omitempty"`
}

// ValueGet asks for the current value at an index (verb "get").
type ValueGet struct {
	Index int `json:"index,omitempty"`
}

// HeartbeatReply answers the "heartbeat" control.
type HeartbeatReply struct {
	Alive bool `json:"alive"`
}

// NodeHeartbeat is retained at node/<name>/heartbeat.
type NodeHeartbeat struct {
	State string `json:"state"` // "online" | "offline"
	TS    int64  `json:"ts_ns"`
}

const (
	NodeOnline  = "online"
	NodeOffline = "offline"
)
