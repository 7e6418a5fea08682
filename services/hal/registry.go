// services/hal/registry.go
package hal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// BuildInput is provided to a device builder to construct an Adaptor.
type BuildInput struct {
	Ctx      context.Context
	Lines    LineFactory
	Logger   *slog.Logger
	DeviceID string
	Type     string
	Params   any // raw device params from config; decode with DecodeJSON
}

// BuildOutput is returned by a builder.
type BuildOutput struct {
	Adaptor Adaptor
	// WorkerKey buckets devices sharing one measure worker. Empty means
	// a worker of the device's own.
	WorkerKey string
	Worker    WorkerConfig
}

// Builder constructs an Adaptor from config and platform factories.
type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}

var (
	muBuilders sync.RWMutex
	builders   = map[string]Builder{}
)

// RegisterBuilder installs a builder for a given device type string.
// It panics on duplicate registration to catch mistakes at start-up.
func RegisterBuilder(deviceType string, b Builder) {
	muBuilders.Lock()
	defer muBuilders.Unlock()
	if deviceType == "" {
		panic("hal: empty device type for builder")
	}
	if _, exists := builders[deviceType]; exists {
		panic(fmt.Sprintf("hal: builder already registered for type %q", deviceType))
	}
	builders[deviceType] = b
}

// RegisteredTypes lists device types with a builder, sorted.
func RegisteredTypes() []string {
	muBuilders.RLock()
	defer muBuilders.RUnlock()
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func findBuilder(deviceType string) (Builder, bool) {
	muBuilders.RLock()
	defer muBuilders.RUnlock()
	b, ok := builders[deviceType]
	return b, ok
}
