package extension

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

type unset struct{}

// Unset marks an override key whose value was explicitly left empty. The
// merge keeps the default for such keys instead of clearing it.
var Unset = unset{}

// IsUnset reports whether v is the Unset sentinel or a nil value
func IsUnset(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(unset)
	return ok
}

// Overrides maps section option keys (title, maxRows, ...) to values
type Overrides map[string]any

// Manifest is the subset of manifest.json the host reads
type Manifest struct {
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Section Overrides `json:"new_tab_section"`
}

// UnmarshalJSON maps JSON null inside new_tab_section to Unset
func (o *Overrides) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Overrides, len(raw))
	for k, v := range raw {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			out[k] = Unset
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("override %q: %w", k, err)
		}
		out[k] = val
	}
	*o = out
	return nil
}

// LoadManifest reads and parses a manifest.json
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest.json contents
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Section == nil {
		m.Section = Overrides{}
	}
	return &m, nil
}
