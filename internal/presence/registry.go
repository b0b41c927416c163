// Package presence holds the live position of every open realtime
// connection. Nothing here is persisted; an entry lives exactly as long as
// its connection.
package presence

import (
	"sync"
)

// Position is the latest location reported by one connection.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Snapshot maps connection ID to position. Snapshots handed out by the
// Registry are copies and safe to marshal or mutate.
type Snapshot map[string]Position

type Registry struct {
	mu   sync.RWMutex
	data map[string]Position
}

func NewRegistry() *Registry {
	return &Registry{data: make(map[string]Position)}
}

// Update replaces whatever was recorded for id.
func (r *Registry) Update(id string, pos Position) {
	r.mu.Lock()
	r.data[id] = pos
	r.mu.Unlock()
}

// Remove drops id. Removing an unknown id is a no-op; the return value
// reports whether an entry existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.data[id]
	delete(r.data, id)
	return ok
}

func (r *Registry) Get(id string) (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.data[id]
	return p, ok
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Snapshot, len(r.data))
	for id, p := range r.data {
		out[id] = p
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
