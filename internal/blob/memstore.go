package blob

import (
	"context"
	"sync"

	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// MemStore is an in-process Store used by tests and local development.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Put(ctx context.Context, uri string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[uri] = cp
	return nil
}

func (m *MemStore) Get(ctx context.Context, uri string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[uri]
	if !ok {
		return nil, perrors.NotFound("blob", uri)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemStore) Delete(ctx context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, uri)
	return nil
}
