// Package values models the named, indexed values a component exposes:
// configuration integers, sensor readings backed by a read callback, and
// the poll companions that carry each sensor's polling period.
package values

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"dhtnode-go/types"
)

type Genre string

const (
	GenreBasic  Genre = "basic"
	GenreUser   Genre = "user"
	GenreConfig Genre = "config"
	GenreSystem Genre = "system"
)

type Type string

const (
	TypeInt   Type = "int"
	TypeFloat Type = "float"
)

// DefaultPollS is the default poll period of a companion, in seconds.
const DefaultPollS = 30

// PollSuffix is appended to a sensor uuid to name its poll companion.
const PollSuffix = "_poll"

var (
	ErrDuplicate = errors.New("values: duplicate uuid")
	ErrNotInt    = errors.New("values: not an integer")
)

// GetFunc produces fresh data for an index, typically by reading hardware.
// Implementations store what they read through Set.
type GetFunc func(ctx context.Context, index int) (any, error)

// Value is one named value. Data is held per index; an index without data
// reads as the default.
type Value struct {
	uuid   string
	label  string
	help   string
	units  string
	genre  Genre
	typ    Type
	def    any
	get    GetFunc
	pollOf string

	mu   sync.RWMutex
	data map[int]any
}

// ConfigInt is a configuration integer such as a pin number.
func ConfigInt(uuid, label, help string, def int) *Value {
	return &Value{uuid: uuid, label: label, help: help, genre: GenreConfig, typ: TypeInt, def: def}
}

// SensorTemperature is a temperature reading in °C.
func SensorTemperature(uuid, label, help string, get GetFunc) *Value {
	return &Value{uuid: uuid, label: label, help: help, units: "°C", genre: GenreUser, typ: TypeFloat, get: get}
}

// SensorHumidity is a relative humidity reading in %.
func SensorHumidity(uuid, label, help string, get GetFunc) *Value {
	return &Value{uuid: uuid, label: label, help: help, units: "%", genre: GenreUser, typ: TypeFloat, get: get}
}

// PollValue creates the companion holding v's poll period in seconds.
func (v *Value) PollValue(defSeconds int) *Value {
	if defSeconds <= 0 {
		defSeconds = DefaultPollS
	}
	return &Value{
		uuid:   v.uuid + PollSuffix,
		label:  "Poll " + v.label,
		help:   "The poll delay of the value",
		units:  "seconds",
		genre:  GenreSystem,
		typ:    TypeInt,
		def:    defSeconds,
		pollOf: v.uuid,
	}
}

func (v *Value) UUID() string  { return v.uuid }
func (v *Value) Label() string { return v.label }
func (v *Value) Genre() Genre  { return v.genre }

// PollOf returns the uuid of the value this companion polls, or "".
func (v *Value) PollOf() string { return v.pollOf }

// Data returns the stored data for index, else the default.
func (v *Value) Data(index int) any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if d, ok := v.data[index]; ok {
		return d
	}
	return v.def
}

// Int returns Data(index) as an int.
func (v *Value) Int(index int) (int, error) {
	switch x := v.Data(index).(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case float64:
		if x == float64(int(x)) {
			return int(x), nil
		}
	}
	return 0, fmt.Errorf("%s: %w", v.uuid, ErrNotInt)
}

// Set stores data for index. Storing nil removes it.
func (v *Value) Set(index int, data any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if data == nil {
		delete(v.data, index)
		return
	}
	if v.data == nil {
		v.data = map[int]any{}
	}
	v.data[index] = data
}

// HasData reports whether any index holds stored data.
func (v *Value) HasData() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.data) > 0
}

// Read refreshes the value through its callback, if any, and returns the
// result. Values without a callback return Data(index).
func (v *Value) Read(ctx context.Context, index int) (any, error) {
	if v.get == nil {
		return v.Data(index), nil
	}
	return v.get(ctx, index)
}

// Describe snapshots the value.
func (v *Value) Describe() types.ValueDescriptor {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d := types.ValueDescriptor{
		UUID:    v.uuid,
		Label:   v.label,
		Help:    v.help,
		Units:   v.units,
		Genre:   string(v.genre),
		Type:    string(v.typ),
		Default: v.def,
		PollOf:  v.pollOf,
	}
	if len(v.data) > 0 {
		d.Data = make(map[int]any, len(v.data))
		for k, x := range v.data {
			d.Data[k] = x
		}
	}
	return d
}

// Set is a component's values keyed by uuid.
type Set struct {
	mu sync.RWMutex
	m  map[string]*Value
}

func NewSet() *Set { return &Set{m: map[string]*Value{}} }

// Add registers v. Uuids are unique within a set.
func (s *Set) Add(v *Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[v.uuid]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, v.uuid)
	}
	s.m[v.uuid] = v
	return nil
}

func (s *Set) Get(uuid string) (*Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[uuid]
	return v, ok
}

// Describe returns every value, sorted by uuid.
func (s *Set) Describe() []types.ValueDescriptor {
	s.mu.RLock()
	vs := make([]*Value, 0, len(s.m))
	for _, v := range s.m {
		vs = append(vs, v)
	}
	s.mu.RUnlock()
	sort.Slice(vs, func(i, j int) bool { return vs[i].uuid < vs[j].uuid })
	out := make([]types.ValueDescriptor, len(vs))
	for i, v := range vs {
		out[i] = v.Describe()
	}
	return out
}
