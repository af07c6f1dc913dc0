package storage

import (
	"context"
	"sync"

	"taskboard/domain"
)

// MemoryStore keeps encoded snapshots in process memory. Snapshots are stored
// encoded so a loaded state never aliases one that was saved.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string][]byte{}}
}

func (m *MemoryStore) Load(ctx context.Context, key string) (domain.AppState, error) {
	if err := ctx.Err(); err != nil {
		return domain.AppState{}, err
	}
	m.mu.RLock()
	data, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return domain.AppState{}, ErrNotFound
	}
	return Decode(data)
}

func (m *MemoryStore) Save(ctx context.Context, key string, s domain.AppState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[key] = data
	m.mu.Unlock()
	return nil
}

// Close is a no-op so MemoryStore can stand in for the other stores.
func (m *MemoryStore) Close() error { return nil }
