package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/loreforge/pkg/backend"
)

// ErrBackendNotRegistered is returned by [Registry.CreateBackend] when no
// factory has been registered for the entry's kind.
var ErrBackendNotRegistered = errors.New("config: backend kind not registered")

// BackendFactory builds a backend from its config entry.
type BackendFactory func(BackendEntry) (backend.Backend, error)

// Registry maps backend kinds to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BackendFactory)}
}

// RegisterBackend registers a factory for kind. Subsequent calls with the
// same kind overwrite the previous registration.
func (r *Registry) RegisterBackend(kind string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// CreateBackend instantiates the backend described by entry using the
// factory registered under entry.Kind.
func (r *Registry) CreateBackend(entry BackendEntry) (backend.Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (backend %q)", ErrBackendNotRegistered, entry.Kind, entry.Name)
	}
	b, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create backend %q: %w", entry.Name, err)
	}
	return b, nil
}

// CreateBackends instantiates every backend of cfg in order.
func (r *Registry) CreateBackends(cfg *Config) ([]backend.Backend, error) {
	out := make([]backend.Backend, 0, len(cfg.Backends))
	for _, e := range cfg.Backends {
		b, err := r.CreateBackend(e)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
