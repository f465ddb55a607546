package circuitbreaker

import "sync"

// Registry holds one Breaker per key (a model ID in this proxy), created
// lazily on first use with the options given to NewRegistry.
type Registry struct {
	mu    sync.Mutex
	opts  []Option
	items map[string]*Breaker
}

// NewRegistry creates a Registry whose breakers all share the given options.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:  opts,
		items: make(map[string]*Breaker),
	}
}

// Get returns the Breaker for key, creating it if it does not yet exist.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[key]
	if !ok {
		b = New(r.opts...)
		r.items[key] = b
	}
	return b
}
