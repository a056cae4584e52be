package pool

import (
	"sync"
)

// Managed is the type-erased surface a registry needs from a pool. Every
// Pool[T] satisfies it regardless of its element type.
type Managed interface {
	Name() string
	Check()
	Stats() Stats
	ShrinkFree(toFloor bool) int
	Reset()
}

// Registry tracks named pools so the periodic checker, the memory manager,
// and the status surface can reach all of them without knowing element
// types. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]Managed
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		pools: make(map[string]Managed),
	}
}

// Names returns the registered pool names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	return names
}

// Register adds a pool under its name, replacing any previous entry
func (r *Registry) Register(p Managed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[p.Name()] = p
}

// Unregister removes a pool by name
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pools, name)
}

// Get returns the pool registered under name
func (r *Registry) Get(name string) (Managed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[name]
	return p, ok
}

// CheckAll runs one scaling pass on every pool
func (r *Registry) CheckAll() {
	for _, p := range r.snapshot() {
		p.Check()
	}
}

// StatsAll returns a snapshot of every pool keyed by name
func (r *Registry) StatsAll() map[string]Stats {
	pools := r.snapshot()
	out := make(map[string]Stats, len(pools))
	for _, p := range pools {
		out[p.Name()] = p.Stats()
	}
	return out
}

// ShrinkAll shrinks every pool; toFloor forces each to its floor size.
// Returns the total number of handles retired.
func (r *Registry) ShrinkAll(toFloor bool) int {
	total := 0
	for _, p := range r.snapshot() {
		total += p.ShrinkFree(toFloor)
	}
	return total
}

// ResetAll resets every pool
func (r *Registry) ResetAll() {
	for _, p := range r.snapshot() {
		p.Reset()
	}
}

// snapshot copies the pool list so callbacks run outside the registry lock
func (r *Registry) snapshot() []Managed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Managed, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}
