package handshake

import (
	"context"
	"sync"
)

// MemoryRepository keeps states in process; expired entries are dropped on Save.
type MemoryRepository struct {
	mu    sync.Mutex
	store map[string]*State
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{store: make(map[string]*State)}
}

func (m *MemoryRepository) Save(ctx context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.store {
		if v.ExpiresAt.Before(s.CreatedAt) {
			delete(m.store, k)
		}
	}
	cp := *s
	m.store[s.Token] = &cp
	return nil
}

func (m *MemoryRepository) Take(ctx context.Context, token string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[token]
	if !ok {
		return nil, nil
	}
	delete(m.store, token)
	return s, nil
}
