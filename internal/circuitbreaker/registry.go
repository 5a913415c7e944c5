package circuitbreaker

import (
	"sync"
)

// Registry manages named Breaker instances sharing a default config,
// so the gateway can multiplex breakers (per upstream, per model) from
// a single code path.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a registry whose breakers are built from cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for name, or nil if none exists yet.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b := r.breakers[name]
	r.mu.RUnlock()
	return b
}

// GetOrCreate returns the breaker for name, creating one lazily.
// Uses double-check locking to minimize write-lock contention.
func (r *Registry) GetOrCreate(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.config)
	r.breakers[name] = b
	return b
}

// AllStats snapshots every registered breaker, keyed by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	snapshot := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		snapshot = append(snapshot, b)
	}
	r.mu.RUnlock()

	stats := make(map[string]Stats, len(snapshot))
	for _, b := range snapshot {
		stats[b.Name()] = b.Stats()
	}
	return stats
}

// ResetAll forces every registered breaker closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	snapshot := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		snapshot = append(snapshot, b)
	}
	r.mu.RUnlock()

	for _, b := range snapshot {
		b.Reset()
	}
}
