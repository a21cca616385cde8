package breaker

import "sync"

// Registry hands out one breaker per named external dependency so that
// every caller of, say, the alimtalk API shares failure state. Constructed
// once in main and passed down; there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	opts     Options
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share the given options.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.opts)
	r.breakers[name] = b
	return b
}

// Snapshot returns the status of every registered breaker.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		statuses = append(statuses, b.Status())
	}
	return statuses
}
