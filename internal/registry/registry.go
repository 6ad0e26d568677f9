// Package registry holds the read-only lookup tables that map channels,
// environments and (region, environment) pairs to Git references of the
// shared configuration repository.
package registry

import (
	"fmt"
	"sort"
)

// Registry is an immutable set of ref lookup tables. The zero value is not
// usable; construct with New or Load.
type Registry struct {
	repository      string
	channels        map[string]string
	envPins         map[string]string
	defaultChannels map[string]string
	regionPins      map[RegionKey]string
}

// New copies m into a Registry and validates it. Empty keys and empty refs
// are ConfigParseErrors. A default channel naming an undefined channel is a
// DanglingReferenceError.
func New(m Maps) (*Registry, error) {
	r := &Registry{
		repository:      m.Repository,
		channels:        copyMap(m.Channels),
		envPins:         copyMap(m.EnvPins),
		defaultChannels: copyMap(m.DefaultChannels),
		regionPins:      make(map[RegionKey]string, len(m.RegionPins)),
	}
	for k, v := range m.RegionPins {
		r.regionPins[k] = v
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) validate() error {
	for _, field := range []struct {
		name string
		m    map[string]string
	}{
		{"channels", r.channels},
		{"env_pins", r.envPins},
		{"default_channels", r.defaultChannels},
	} {
		for _, k := range sortedKeys(field.m) {
			if k == "" {
				return &ConfigParseError{Source: "<registry>", Field: field.name, Reason: "empty key"}
			}
			if field.m[k] == "" {
				return &ConfigParseError{Source: "<registry>", Field: field.name + "." + k, Reason: "empty value"}
			}
		}
	}

	for k, ref := range r.regionPins {
		if k.Region == "" || k.Env == "" {
			return &ConfigParseError{Source: "<registry>", Field: "region_pins", Reason: fmt.Sprintf("region pin %q needs both region and env", k.String())}
		}
		if ref == "" {
			return &ConfigParseError{Source: "<registry>", Field: "region_pins", Reason: fmt.Sprintf("empty ref for %s", k)}
		}
	}

	// Sorted so the reported env is stable across runs.
	for _, env := range sortedKeys(r.defaultChannels) {
		ch := r.defaultChannels[env]
		if _, ok := r.channels[ch]; !ok {
			return &DanglingReferenceError{Env: env, Channel: ch}
		}
	}
	return nil
}

// Repository returns the configured shared config repository URL, if any.
func (r *Registry) Repository() string { return r.repository }

// Channel returns the ref a channel maps to.
func (r *Registry) Channel(name string) (string, bool) {
	ref, ok := r.channels[name]
	return ref, ok
}

// EnvPin returns the direct pin for env.
func (r *Registry) EnvPin(env string) (string, bool) {
	ref, ok := r.envPins[env]
	return ref, ok
}

// DefaultChannel returns the channel name env defaults to.
func (r *Registry) DefaultChannel(env string) (string, bool) {
	ch, ok := r.defaultChannels[env]
	return ch, ok
}

// RegionPin returns the pin for the exact (region, env) pair.
func (r *Registry) RegionPin(region, env string) (string, bool) {
	ref, ok := r.regionPins[RegionKey{Region: region, Env: env}]
	return ref, ok
}

// Channels returns the channel names in sorted order.
func (r *Registry) Channels() []string {
	return sortedKeys(r.channels)
}

// Refs returns every distinct ref a resolution can produce, sorted.
func (r *Registry) Refs() []string {
	seen := make(map[string]bool)
	for _, ref := range r.channels {
		seen[ref] = true
	}
	for _, ref := range r.envPins {
		seen[ref] = true
	}
	for _, ref := range r.regionPins {
		seen[ref] = true
	}
	return sortedKeys(seen)
}

// Maps returns a copy of the registry's tables.
func (r *Registry) Maps() Maps {
	m := Maps{
		Version:         supportedVersion,
		Repository:      r.repository,
		Channels:        copyMap(r.channels),
		EnvPins:         copyMap(r.envPins),
		DefaultChannels: copyMap(r.defaultChannels),
		RegionPins:      make(map[RegionKey]string, len(r.regionPins)),
	}
	for k, v := range r.regionPins {
		m.RegionPins[k] = v
	}
	return m
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
