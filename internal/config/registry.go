package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/asrtriage/pkg/provider/gen"
)

// ErrGeneratorNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested backend name.
var ErrGeneratorNotRegistered = errors.New("config: generator not registered")

// Registry maps generation backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (gen.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(ProviderEntry) (gen.Provider, error)),
	}
}

// Register registers a generator factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(ProviderEntry) (gen.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a generation provider using the factory registered
// under entry.Name. Returns [ErrGeneratorNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) Create(entry ProviderEntry) (gen.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGeneratorNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered backend names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
