// Package assets defines the precache asset list and the namespace it is stored under.
package assets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"offlinecache/internal/core"
)

// DefaultNamespace is the cache namespace of the current application version.
const DefaultNamespace = "photo-planner-v1"

// DefaultAssets returns the resources guaranteed present after activation.
func DefaultAssets() []string {
	return []string{
		"/",
		"/manifest.json",
		"/icons/icon-192.png",
		"/icons/icon-512.png",
	}
}

// Manifest is the activation constants: a namespace and its ordered asset list.
type Manifest struct {
	Namespace string   `yaml:"namespace"`
	Assets    []string `yaml:"assets"`
}

// Default returns the built-in manifest.
func Default() Manifest {
	return Manifest{Namespace: DefaultNamespace, Assets: DefaultAssets()}
}

// Validate rejects empty namespaces, empty lists and blank or duplicate identifiers.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Namespace) == "" {
		return errors.New("namespace is required")
	}
	if len(m.Assets) == 0 {
		return errors.New("asset list is empty")
	}

	seen := make(map[string]int, len(m.Assets))
	for i, id := range m.Assets {
		req, err := core.NewRequest("GET", id)
		if err != nil {
			return fmt.Errorf("asset #%d: %w", i, err)
		}
		if prev, dup := seen[req.Key()]; dup {
			return fmt.Errorf("asset #%d (%q) duplicates asset #%d", i, id, prev)
		}
		seen[req.Key()] = i
	}
	return nil
}

// Load reads a YAML manifest file:
//
//	namespace: photo-planner-v2
//	assets:
//	  - /
//	  - /manifest.json
//
// A missing namespace falls back to DefaultNamespace.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read asset manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML manifest.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse asset manifest: %w", err)
	}
	if m.Namespace == "" {
		m.Namespace = DefaultNamespace
	}
	for i := range m.Assets {
		m.Assets[i] = strings.TrimSpace(m.Assets[i])
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("invalid asset manifest: %w", err)
	}
	return m, nil
}

// SplitList parses a comma separated asset list, dropping blank items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
