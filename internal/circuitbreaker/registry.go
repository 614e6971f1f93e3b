package circuitbreaker

import (
	"sync"
	"time"
)

// Registry manages per-credential (or per-endpoint) Breaker instances.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a new circuit breaker registry with the given config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for id, or nil if none exists.
func (r *Registry) Get(id string) *Breaker {
	r.mu.RLock()
	b := r.breakers[id]
	r.mu.RUnlock()
	return b
}

// GetOrCreate returns the breaker for id, creating one if needed. Uses
// double-check locking to minimize write-lock contention.
func (r *Registry) GetOrCreate(id string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[id]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[id]; ok {
		return b
	}
	b = NewBreaker(r.config)
	r.breakers[id] = b
	return b
}

// EvictStale removes breakers not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var staleKeys []string
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			staleKeys = append(staleKeys, k)
		}
	}
	r.mu.RUnlock()

	if len(staleKeys) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, k := range staleKeys {
		if b, ok := r.breakers[k]; ok && b.LastUsed().Before(cutoff) {
			delete(r.breakers, k)
			evicted++
		}
	}
	return evicted
}

// Snapshot returns the current state of every tracked breaker, for metrics
// export and the admin diagnostics surface.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}
