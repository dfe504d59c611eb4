package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cadenza-coach/cadenza/internal/coach"
)

// ErrGeneratorNotRegistered is returned by [Registry.CreateGenerator] when no
// factory has been registered under the requested provider name.
var ErrGeneratorNotRegistered = errors.New("config: generator not registered")

// GeneratorFactory constructs a [coach.Generator] from the coach config block.
type GeneratorFactory func(CoachConfig) (coach.Generator, error)

// Registry maps coach provider names to generator factories. It decouples the
// config layer from concrete generator implementations; main registers the
// factories it links in. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]GeneratorFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]GeneratorFactory),
	}
}

// RegisterGenerator registers a generator factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterGenerator(name string, factory GeneratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = factory
}

// CreateGenerator instantiates a generator using the factory registered under
// cfg.Provider. Returns [ErrGeneratorNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateGenerator(cfg CoachConfig) (coach.Generator, error) {
	r.mu.RLock()
	factory, ok := r.generators[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGeneratorNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// Names returns the registered provider names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	return names
}
