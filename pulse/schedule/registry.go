package schedule

import (
	"sort"
	"sync"

	"github.com/teranos/pulsestore/errors"
)

// Registry is the set of function names the scheduling engine can run.
// Job definitions store only the name; a codec built with a registry rejects
// names outside it, so a job whose function was removed from the engine is
// quarantined instead of failing at run time.
type Registry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewRegistry returns a registry holding names. An empty or repeated name
// is an error.
func NewRegistry(names ...string) (*Registry, error) {
	r := &Registry{names: make(map[string]struct{}, len(names))}
	if err := r.Register(names...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds names. Registering a name twice is an error; names before
// the offending one stay registered.
func (r *Registry) Register(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if name == "" {
			return errors.New("function name must not be empty")
		}
		if _, ok := r.names[name]; ok {
			return errors.Mark(errors.Newf("function %q already registered", name), errors.ErrConflict)
		}
		r.names[name] = struct{}{}
	}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
