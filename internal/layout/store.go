package layout

import (
	"context"
	"sync"
)

// Store is the durable backing of a Repository. Write always receives the
// complete mapping and must replace the stored state atomically: after a
// failed or interrupted Write, Load returns the previous state in full.
//
// The Repository is the only writer of its Store.
type Store interface {
	// Load returns ErrStoreNotExist if nothing was ever written.
	Load(ctx context.Context) (map[string]Document, error)
	Write(ctx context.Context, docs map[string]Document) error
}

// MemoryStore keeps the "durable" state in process memory. It backs the
// memory store driver and tests; SetWriteErr makes subsequent writes fail.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]Document
	exists   bool
	writeErr error
	writes   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (map[string]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return nil, ErrStoreNotExist
	}
	return cloneDocs(m.docs), nil
}

func (m *MemoryStore) Write(_ context.Context, docs map[string]Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.docs = cloneDocs(docs)
	m.exists = true
	m.writes++
	return nil
}

// SetWriteErr makes every following Write return err; nil restores writes.
func (m *MemoryStore) SetWriteErr(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Writes counts successful writes.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func cloneDocs(src map[string]Document) map[string]Document {
	dst := make(map[string]Document, len(src))
	for k, d := range src {
		dst[k] = d.Clone()
	}
	return dst
}
