package breaker

import (
	"sort"
	"sync"
)

// Registry is a name-indexed store of breakers shared by all callers.
// Construction is lazy and configuration is first-writer-wins: Get ignores
// cfg when the name already exists, so callers cannot silently reconfigure a
// shared breaker.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it with cfg on first use.
func (r *Registry) Get(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, cfg)
	r.breakers[name] = b
	return b
}

// AllStates snapshots every breaker, sorted by name.
func (r *Registry) AllStates() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, len(list))
	for i, b := range list {
		snaps[i] = b.Snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// ResetAll forces every breaker closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	for _, b := range list {
		b.Reset()
	}
}
