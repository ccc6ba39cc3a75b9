// Package config produces the flat option mapping the pipeline core
// consumes: a config file merged with CLI-style overrides, normalized
// to typed scalars (int, float64, bool, string).
//
// The core never parses file formats itself; this package is one
// producer of the mapping, callers are free to supply their own.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a config file into a flat option mapping.
//
// Supported formats, chosen by extension:
//   - .json: encoding/json
//   - .yaml, .yml: YAML
//
// Nested sections flatten into dotted names, so
//
//	optimizer:
//	  lr: 0.01
//
// becomes {"optimizer.lr": 0.01}. Scalars normalize to int, float64,
// bool, or string.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		// UseNumber preserves the int/float distinction the default
		// decoder collapses into float64.
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid JSON config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .json, .yaml, or .yml)", ext)
	}

	flat := make(map[string]any)
	flatten("", raw, flat)
	return flat, nil
}

// Merge combines option mappings left to right: later mappings
// overwrite earlier ones, so pass file config first and CLI overrides
// last.
func Merge(maps ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// EnsureRequired verifies that every named option is present in the
// mapping, reporting all missing names at once.
func EnsureRequired(options map[string]any, required ...string) error {
	var missing []string
	for _, name := range required {
		if _, ok := options[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config values: %s", strings.Join(missing, ", "))
	}
	return nil
}

// flatten walks nested maps into dotted names and normalizes scalars.
func flatten(prefix string, in map[string]any, out map[string]any) {
	for key, value := range in {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		switch v := value.(type) {
		case map[string]any:
			flatten(name, v, out)
		default:
			out[name] = normalize(v)
		}
	}
}

// normalize reduces decoder-specific numeric types to the core's scalar
// set: int, float64, bool, string.
func normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case float32:
		return float64(n)
	case int64:
		return int(n)
	case uint64:
		return int(n)
	default:
		return v
	}
}
