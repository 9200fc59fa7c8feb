// Package memstore is an in-memory store.CRUDStore[T] implementation for
// tests that don't need a real Postgres connection — rem/kv/chatmemory
// callers that only exercise CRUD semantics, not SQL dialect features
// (JSONB filters, trigram search, vector ANN) postgres.GenericStore alone
// provides.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/percolation-labs/p8k8/internal/store"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// Store is an in-memory CRUDStore[T], keyed by (tenant_id, id) the same
// way every Postgres-backed table scopes rows to a tenant.
type Store[T store.Entity] struct {
	mu   sync.RWMutex
	rows map[string]T

	// ErrorOnNextCall lets a test inject a failure into the next store
	// call, then clears itself.
	ErrorOnNextCall error
}

// New creates an empty in-memory store.
func New[T store.Entity]() *Store[T] {
	return &Store[T]{rows: make(map[string]T)}
}

func (s *Store[T]) checkError() error {
	if s.ErrorOnNextCall != nil {
		err := s.ErrorOnNextCall
		s.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func key(tenantID, id string) string { return tenantID + "/" + id }

// Reset clears every row, for test isolation between cases.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]T)
	s.ErrorOnNextCall = nil
}

func (s *Store[T]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return zero, err
	}

	now := time.Now().UTC()
	entity.SetCreatedAt(now)
	entity.SetUpdatedAt(now)
	s.rows[key(entity.GetTenantID(), entity.GetID())] = entity
	return entity, nil
}

func (s *Store[T]) Get(ctx context.Context, tenantID, id string) (T, error) {
	var zero T
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return zero, err
	}

	row, ok := s.rows[key(tenantID, id)]
	if !ok {
		return zero, perrors.NotFound("memstore", id)
	}
	return row, nil
}

func (s *Store[T]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return zero, err
	}

	k := key(entity.GetTenantID(), entity.GetID())
	if _, ok := s.rows[k]; !ok {
		return zero, perrors.NotFound("memstore", entity.GetID())
	}
	entity.SetUpdatedAt(time.Now().UTC())
	s.rows[k] = entity
	return entity, nil
}

func (s *Store[T]) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return err
	}

	k := key(tenantID, id)
	if _, ok := s.rows[k]; !ok {
		return perrors.NotFound("memstore", id)
	}
	delete(s.rows, k)
	return nil
}

func (s *Store[T]) List(ctx context.Context, tenantID string, opts store.QueryOptions) (store.ListResult[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return store.ListResult[T]{}, err
	}

	var items []T
	for k, row := range s.rows {
		if tenantID != "" && (len(k) <= len(tenantID) || k[:len(tenantID)+1] != tenantID+"/") {
			continue
		}
		items = append(items, row)
	}

	p := opts.Pagination.Normalize(500)
	total := int64(len(items))
	if p.Offset >= len(items) {
		items = nil
	} else {
		end := p.Offset + p.Limit
		if end > len(items) {
			end = len(items)
		}
		items = items[p.Offset:end]
	}
	return store.NewListResult(items, total, p.Limit, p.Offset), nil
}

func (s *Store[T]) Count(ctx context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return 0, err
	}
	var n int64
	for k := range s.rows {
		if tenantID == "" || (len(k) > len(tenantID) && k[:len(tenantID)+1] == tenantID+"/") {
			n++
		}
	}
	return n, nil
}

var _ store.CRUDStore[store.Entity] = (*Store[store.Entity])(nil)
