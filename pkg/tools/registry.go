package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds named function tools provided outside agent configs,
// such as those exported by capability plugins.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]*Function
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]*Function)}
}

// Register adds fn under its name. Names are unique.
func (r *Registry) Register(fn *Function) error {
	if fn == nil {
		return fmt.Errorf("function is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[fn.Name()]; exists {
		return fmt.Errorf("function %s already registered", fn.Name())
	}
	r.funcs[fn.Name()] = fn
	return nil
}

// Unregister removes a function by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.funcs, name)
	r.mu.Unlock()
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return fn, nil
}

// Names returns registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
