package worker

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
)

// Factory builds a handler for the worker id from its spawn config.
type Factory func(id string, config map[string]any) (Handler, error)

// Registry maps class tags to factories. It is filled once at startup and
// read by the swarm on spawn and respawn.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register makes a worker class available by tag. Duplicate tags are an error.
func (r *Registry) Register(classTag string, f Factory) error {
	if classTag == "" || f == nil {
		return fmt.Errorf("worker: class tag and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[classTag]; exists {
		return fmt.Errorf("worker: duplicate registration for %q", classTag)
	}
	r.factories[classTag] = f
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(classTag string, f Factory) {
	if err := r.Register(classTag, f); err != nil {
		panic(err)
	}
}

// New builds a handler of the given class. Unknown classes and rejected
// configs are validation errors.
func (r *Registry) New(classTag, id string, config map[string]any) (Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[classTag]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown worker class %q", domain.ErrValidation, classTag)
	}
	h, err := f(id, config)
	if err != nil {
		return nil, fmt.Errorf("%w: build %s/%s: %w", domain.ErrValidation, classTag, id, err)
	}
	return h, nil
}

// Has reports whether classTag is registered.
func (r *Registry) Has(classTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[classTag]
	return ok
}

// Available returns the registered class tags, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
