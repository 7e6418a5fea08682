// services/hal/topics.go
package hal

import (
	"dhtnode-go/bus"
	"dhtnode-go/types"
)

// Capability topics: hal/cap/<domain>/<kind>/<name>/<leaf...>
const (
	LeafInfo    = "info"
	LeafStatus  = "status"
	LeafValue   = "value"
	LeafControl = "control"
)

var (
	StateTopic  = bus.T("hal", "state")
	ConfigTopic = bus.T("config", "hal")
)

// CapTopic builds the topic of a capability leaf.
func CapTopic(domain string, kind types.Kind, name string, rest ...bus.Token) bus.Topic {
	return bus.T("hal", "cap", domain, string(kind), name).Append(rest...)
}

// ControlTopic is where requests for verb on a capability are sent.
func ControlTopic(domain string, kind types.Kind, name, verb string) bus.Topic {
	return CapTopic(domain, kind, name, LeafControl, verb)
}

// CapWildcard matches leaf on every capability.
func CapWildcard(leaf ...bus.Token) bus.Topic {
	return bus.T("hal", "cap", bus.WildOne, bus.WildOne, bus.WildOne).Append(leaf...)
}

// ParseCapTopic extracts the address and the remaining leaf tokens from a
// capability topic.
func ParseCapTopic(t bus.Topic) (addr types.CapabilityAddress, leaf bus.Topic, ok bool) {
	if len(t) < 6 || t[0] != "hal" || t[1] != "cap" {
		return addr, nil, false
	}
	domain, ok1 := t[2].(string)
	kind, ok2 := t[3].(string)
	name, ok3 := t[4].(string)
	if !ok1 || !ok2 || !ok3 || domain == "" || kind == "" || name == "" {
		return addr, nil, false
	}
	return types.CapabilityAddress{Domain: domain, Kind: types.Kind(kind), Name: name}, t[5:], true
}
