package adapters

import (
	"context"
	"sync"
)

// Registry holds the adapters the daemon was configured with.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
}

func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Available returns the adapters whose backend currently answers.
func (r *Registry) Available(ctx context.Context) []Adapter {
	var out []Adapter
	for _, a := range r.All() {
		if a.IsAvailable(ctx) {
			out = append(out, a)
		}
	}
	return out
}
