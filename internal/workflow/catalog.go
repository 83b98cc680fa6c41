package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk form of a workflow set.
type Catalog struct {
	// Replace drops the built-in workflows instead of extending them.
	Replace   bool         `yaml:"replace"`
	Workflows []Definition `yaml:"workflows"`
}

// ParseCatalog decodes a YAML catalog and validates every definition.
// Unknown fields are rejected.
func ParseCatalog(data []byte) (Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode workflow catalog: %w", err)
	}

	seen := make(map[string]bool, len(cat.Workflows))
	for _, def := range cat.Workflows {
		if err := def.Validate(); err != nil {
			return Catalog{}, err
		}
		if seen[def.Name] {
			return Catalog{}, fmt.Errorf("workflow %s defined twice", def.Name)
		}
		seen[def.Name] = true
	}
	return cat, nil
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read workflow catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Apply merges the catalog into r. Same-named definitions replace the
// existing ones; with Replace set, r is expected to be empty.
func (c Catalog) Apply(r *Registry) error {
	for _, def := range c.Workflows {
		if err := r.Put(def); err != nil {
			return err
		}
	}
	return nil
}

// BuildRegistry returns the built-in registry extended by the catalog at
// path, or only the catalog when it sets replace. An empty path yields the
// built-ins.
func BuildRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	cat, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()
	if !cat.Replace {
		reg = DefaultRegistry()
	}
	if err := cat.Apply(reg); err != nil {
		return nil, err
	}
	if len(reg.List()) == 0 {
		return nil, errors.New("workflow catalog defines no workflows")
	}
	return reg, nil
}
