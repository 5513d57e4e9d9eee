package state

import (
	"context"
	"sync"
)

// Memory is an in-process Store used for tests and the "memory" backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) Commit(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if w.Deleted() {
			delete(m.data, w.Key)
			continue
		}
		m.data[w.Key] = clone(w.Value)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) HealthCheck(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
