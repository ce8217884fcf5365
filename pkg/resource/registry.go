package resource

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
)

// ErrUnknownResource is returned when a resource name is not registered.
var ErrUnknownResource = errors.New("unknown resource")

// Registry is an immutable, linked set of resources keyed by name.
type Registry struct {
	resources map[string]*Resource
}

// Build validates and links resources into a Registry. The descriptors are
// owned by the registry afterwards and must not be modified.
func Build(resources ...*Resource) (*Registry, error) {
	lookup := make(map[string]*Resource, len(resources))
	for _, r := range resources {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, dup := lookup[r.Name]; dup {
			return nil, fmt.Errorf("duplicate resource %q", r.Name)
		}
		lookup[r.Name] = r
	}
	for _, r := range resources {
		if err := r.link(lookup); err != nil {
			return nil, err
		}
	}
	return &Registry{resources: lookup}, nil
}

// Lookup returns the resource registered under name.
func (reg *Registry) Lookup(name string) (*Resource, error) {
	r, ok := reg.resources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, name)
	}
	return r, nil
}

// Names returns the sorted resource names.
func (reg *Registry) Names() []string {
	names := make([]string, 0, len(reg.resources))
	for name := range reg.resources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var current atomic.Pointer[Registry]

// Publish makes reg the registry returned by Current. Readers never block;
// a reload publishes a fresh registry instead of mutating the old one.
func Publish(reg *Registry) {
	current.Store(reg)
}

// Current returns the last published registry, or nil.
func Current() *Registry {
	return current.Load()
}
