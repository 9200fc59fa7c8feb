// Package store defines the generic entity-store contracts every domain
// table (sessions, messages, moments, resources, ontologies, files, tools,
// servers, tenants, users...) is accessed through, plus the filter/pagination
// builder that postgres.GenericStore's List renders its query with.
package store

import (
	"context"
	"time"
)

// Entity is the contract every stored row satisfies via domain.Envelope.
type Entity interface {
	GetID() string
	GetTenantID() string
	SetCreatedAt(time.Time)
	SetUpdatedAt(time.Time)
}

// CRUDStore is the generic per-table operation set.
type CRUDStore[T Entity] interface {
	Create(ctx context.Context, entity T) (T, error)
	Get(ctx context.Context, tenantID, id string) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string, opts QueryOptions) (ListResult[T], error)
	Count(ctx context.Context, tenantID string) (int64, error)
}

// TxStore provides transaction support to callers that must group several
// store calls atomically (e.g. turn persistence: message + session token
// counter + embedding-queue enqueue in one commit).
type TxStore interface {
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Filter represents one predicate in a QueryBuilder chain.
type Filter struct {
	Field    string
	Operator string // =, !=, <, >, <=, >=, LIKE, IN, IS NULL, IS NOT NULL
	Value    any
}

// FilterSet is an ordered collection of filters, ANDed together.
type FilterSet []Filter

func (fs *FilterSet) Add(field, operator string, value any) *FilterSet {
	*fs = append(*fs, Filter{Field: field, Operator: operator, Value: value})
	return fs
}

func (fs *FilterSet) Eq(field string, value any) *FilterSet       { return fs.Add(field, "=", value) }
func (fs *FilterSet) NotEq(field string, value any) *FilterSet    { return fs.Add(field, "!=", value) }
func (fs *FilterSet) Like(field, pattern string) *FilterSet       { return fs.Add(field, "LIKE", pattern) }
func (fs *FilterSet) In(field string, values any) *FilterSet      { return fs.Add(field, "IN", values) }
func (fs *FilterSet) IsNull(field string) *FilterSet              { return fs.Add(field, "IS NULL", nil) }
func (fs *FilterSet) IsNotNull(field string) *FilterSet           { return fs.Add(field, "IS NOT NULL", nil) }

// SortOrder is a column sort direction.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// Sort is one ORDER BY term.
type Sort struct {
	Field string
	Order SortOrder
}

// Pagination bounds a List call.
type Pagination struct {
	Limit  int
	Offset int
}

// Normalize clamps Limit/Offset to sane bounds.
func (p Pagination) Normalize(maxLimit int) Pagination {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// QueryOptions bundles filters, sorts, and pagination for a List call.
type QueryOptions struct {
	Filters    FilterSet
	Sorts      []Sort
	Pagination Pagination
}

// NewQueryOptions returns QueryOptions with default pagination.
func NewQueryOptions() QueryOptions {
	return QueryOptions{Pagination: Pagination{Limit: 50}}
}

// ListResult wraps a page of results with pagination metadata.
type ListResult[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// NewListResult builds a ListResult, computing HasMore from total/offset/len.
func NewListResult[T any](items []T, total int64, limit, offset int) ListResult[T] {
	return ListResult[T]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(items)) < total,
	}
}
