package config

import (
	"embed"
	"path"
	"strings"
)

// Embedded per-device configuration, one JSON document per device id.
//
//go:embed defaults/*.json
var defaultsFS embed.FS

func embeddedConfig(device string) ([]byte, bool) {
	if device == "" || strings.ContainsAny(device, "/\\") {
		return nil, false
	}
	b, err := defaultsFS.ReadFile(path.Join("defaults", device+".json"))
	if err != nil {
		return nil, false
	}
	return b, true
}

// EmbeddedDevices lists device ids with an embedded configuration.
func EmbeddedDevices() []string {
	entries, _ := defaultsFS.ReadDir("defaults")
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".json"))
	}
	return out
}
