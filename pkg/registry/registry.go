// Package registry provides a small generic name-keyed registry used for
// LLM providers, agents, and vector backends.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a concurrency-safe name → item map.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register adds an item under a unique name.
func (r *Registry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("registry: name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return fmt.Errorf("registry: %q already registered", name)
	}
	r.items[name] = item
	return nil
}

// Get returns the item registered under name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[name]
	return item, ok
}

// Names returns all registered names, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered items.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Remove deletes the item registered under name.
func (r *Registry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; !exists {
		return fmt.Errorf("registry: %q not found", name)
	}
	delete(r.items, name)
	return nil
}
