package backend

import (
	"fmt"
	"sort"
)

// Registry maps provider names to backends. Populated once at startup,
// read-only afterwards.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

func (r *Registry) Register(b Backend) {
	r.backends[b.Name()] = b
}

// Get returns the backend for a provider name.
func (r *Registry) Get(provider string) (Backend, error) {
	b, ok := r.backends[provider]
	if !ok {
		return nil, fmt.Errorf("unknown compute provider %q", provider)
	}
	return b, nil
}

// Has reports whether a provider is registered.
func (r *Registry) Has(provider string) bool {
	_, ok := r.backends[provider]
	return ok
}

// Providers lists registered provider names, sorted.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
