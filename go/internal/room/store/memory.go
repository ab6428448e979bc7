package store

import (
	"context"
	"sync"
)

// Memory keeps documents in process. The gateway uses it when persistence
// is disabled, so empty rooms still come back after they close.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, roomID string, doc []byte) error {
	cp := make([]byte, len(doc))
	copy(cp, doc)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[roomID] = cp
	return nil
}

func (m *Memory) Load(_ context.Context, roomID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	return cp, nil
}
