// Package store provides the sync engine's token persistence: the last
// since-token and cached sync filter id. MemoryStore is the in-process
// implementation used for tests and single-process demos; store/pg backs
// the same shape with Postgres.
package store

import (
	"context"
	"sync"
)

// MemoryStore is a process-local, mutex-protected TokenStore.
type MemoryStore struct {
	mu      sync.Mutex
	token   string
	has     bool
	filters map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{filters: make(map[string]string)}
}

func (m *MemoryStore) GetSyncToken(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.has, nil
}

func (m *MemoryStore) SetSyncToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.has = token, true
	return nil
}

func (m *MemoryStore) GetFilterID(ctx context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.filters[name]
	return id, ok, nil
}

func (m *MemoryStore) SetFilterID(ctx context.Context, name, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[name] = id
	return nil
}
