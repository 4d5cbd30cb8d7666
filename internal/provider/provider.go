// Package provider maps provider IDs to trace-server base URLs.
// The agent can sync against any of several server instances; the provider
// ID in the configuration selects which one, and an optional YAML file can
// add or override entries without a rebuild.
package provider

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// builtin is the registry of known trace-server instances.
var builtin = map[string]string{
	"agremob":  "https://trace.grfmap.com:8081",
	"openpath": "https://openpath.cozycloud.cc",
}

// Registry resolves provider IDs to base URLs.
type Registry struct {
	urls map[string]string
}

// NewRegistry returns a Registry containing the built-in providers.
func NewRegistry() *Registry {
	urls := make(map[string]string, len(builtin))
	for id, u := range builtin {
		urls[id] = u
	}
	return &Registry{urls: urls}
}

// providersFile is the YAML shape of an override file:
//
//	providers:
//	  myserver: https://trace.example.com:8081
type providersFile struct {
	Providers map[string]string `yaml:"providers"`
}

// LoadFile merges provider entries from a YAML file into the registry.
// File entries override built-ins with the same ID.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("provider.Registry.LoadFile: %w", err)
	}

	var pf providersFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return fmt.Errorf("provider.Registry.LoadFile: parse %s: %w", path, err)
	}

	for id, u := range pf.Providers {
		if id == "" || u == "" {
			return fmt.Errorf("provider.Registry.LoadFile: %s: empty provider id or url", path)
		}
		r.urls[id] = u
	}
	return nil
}

// Resolve returns the base URL for the given provider ID.
// The error names the known IDs so a typo in configuration is easy to spot.
func (r *Registry) Resolve(providerID string) (string, error) {
	u, ok := r.urls[providerID]
	if !ok {
		return "", fmt.Errorf("unknown provider %q (known: %s)", providerID, strings.Join(r.known(), ", "))
	}
	return u, nil
}

// known returns the sorted list of registered provider IDs.
func (r *Registry) known() []string {
	ids := make([]string, 0, len(r.urls))
	for id := range r.urls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
