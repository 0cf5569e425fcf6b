package sessionstore

import (
	"context"
	"sort"
	"sync"

	"github.com/xonecas/agentrt/internal/session"
)

// MemoryStorage is an in-process Storage backed by a map. It deep-copies on
// both Save and Load so the caller can never mutate a snapshot through the
// storage (spec §4.7).
type MemoryStorage struct {
	mu   sync.RWMutex
	byID map[string]session.State
}

// NewMemoryStorage creates an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{byID: make(map[string]session.State)}
}

func (m *MemoryStorage) Save(_ context.Context, state session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[state.ID] = state.Clone()
	return nil
}

func (m *MemoryStorage) Load(_ context.Context, id string) (session.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return session.State{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStorage) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *MemoryStorage) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
