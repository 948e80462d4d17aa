package optimize

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// StoreFactory builds a store. It is called once per transmission.
type StoreFactory func(logger zerolog.Logger) (Store, error)

// Registry maps configuration names to store factories.
type Registry struct {
	factories map[string]StoreFactory
}

// NewRegistry returns a registry that knows the in-memory store.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]StoreFactory{}}

	memory := NewMemoryStore()
	r.Register(MemoryStoreName, func(zerolog.Logger) (Store, error) {
		return memory, nil
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, factory StoreFactory) {
	r.factories[name] = factory
}

// New builds the store registered under name.
func (r *Registry) New(name string, logger zerolog.Logger) (Store, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w %q, known stores: %v", ErrUnknownStore, name, r.Names())
	}

	store, err := factory(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer store %q: %w", name, err)
	}
	return store, nil
}

// Names lists the registered store names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}
