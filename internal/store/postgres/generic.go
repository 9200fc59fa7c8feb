// Package postgres implements internal/store's contracts against Postgres
// via sqlx, plus the registry-driven dispatch (internal/domain.TableControl)
// that lets internal/rem and internal/kv operate over entity tables without
// a hard-coded table list anywhere in the core (see DESIGN.md "Dynamic
// dispatch").
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/store"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// GenericStore is a reflection-light CRUD implementation over a single
// table for a struct type T whose fields carry `db:"..."` tags, following
// the same shape as the teacher's pkg/storage generics but built on sqlx's
// struct scanning instead of hand-rolled reflection.
//
// T is constrained structurally rather than via store.Entity directly:
// every domain row embeds domain.Envelope by value, and Envelope's
// SetCreatedAt/SetUpdatedAt take a pointer receiver so they can actually
// mutate the row, which means only *T (never T) satisfies store.Entity.
// asEntity bridges that gap with a runtime assertion instead of pushing a
// second type parameter onto every call site.
type GenericStore[T any] struct {
	db    *sqlx.DB
	table string
}

// NewGenericStore binds a GenericStore to table.
func NewGenericStore[T any](db *sqlx.DB, table string) *GenericStore[T] {
	return &GenericStore[T]{db: db, table: table}
}

// asEntity adapts a *T to store.Entity. Panics if T doesn't embed
// domain.Envelope, which would itself be a programming error at the call
// site, not a runtime condition this store needs to recover from.
func asEntity(v any) store.Entity {
	return v.(store.Entity)
}

func (s *GenericStore[T]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	now := time.Now().UTC()
	asEntity(&entity).SetCreatedAt(now)
	asEntity(&entity).SetUpdatedAt(now)

	cols, vals, placeholders := insertColumns(entity)
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		s.table, cols, placeholders,
	)

	var out T
	if err := sqlx.GetContext(ctx, s.db, &out, s.db.Rebind(query), vals...); err != nil {
		return zero, perrors.TransientStore("create:"+s.table, err)
	}
	return out, nil
}

func (s *GenericStore[T]) Get(ctx context.Context, tenantID, id string) (T, error) {
	var zero T
	query := fmt.Sprintf(
		"SELECT * FROM %s WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL",
		s.table,
	)
	var out T
	if err := sqlx.GetContext(ctx, s.db, &out, query, id, tenantID); err != nil {
		return zero, perrors.NotFound(s.table, id)
	}
	return out, nil
}

func (s *GenericStore[T]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	asEntity(&entity).SetUpdatedAt(time.Now().UTC())

	set, vals := updateAssignments(entity)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = :id AND tenant_id = :tenant_id RETURNING *",
		s.table, set,
	)

	rows, err := s.db.NamedQueryContext(ctx, query, vals)
	if err != nil {
		return zero, perrors.TransientStore("update:"+s.table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return zero, perrors.NotFound(s.table, asEntity(&entity).GetID())
	}
	var out T
	if err := rows.StructScan(&out); err != nil {
		return zero, perrors.Internal("scan update result", err)
	}
	return out, nil
}

func (s *GenericStore[T]) Delete(ctx context.Context, tenantID, id string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET deleted_at = now() WHERE id = $1 AND tenant_id = $2",
		s.table,
	)
	res, err := s.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return perrors.TransientStore("delete:"+s.table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return perrors.NotFound(s.table, id)
	}
	return nil
}

func (s *GenericStore[T]) List(ctx context.Context, tenantID string, opts store.QueryOptions) (store.ListResult[T], error) {
	qb := store.NewQueryBuilder(s.table, opts)
	where, args := qb.BuildWhere(1)
	query := fmt.Sprintf("SELECT * FROM %s WHERE tenant_id = $1 AND deleted_at IS NULL", s.table)
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY " + qb.BuildOrderBy()

	p := opts.Pagination.Normalize(500)
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", p.Limit, p.Offset)

	allArgs := append([]any{tenantID}, args...)

	var items []T
	if err := sqlx.SelectContext(ctx, s.db, &items, s.db.Rebind(query), allArgs...); err != nil {
		return store.ListResult[T]{}, perrors.TransientStore("list:"+s.table, err)
	}

	total, err := s.Count(ctx, tenantID)
	if err != nil {
		return store.ListResult[T]{}, err
	}
	return store.NewListResult(items, total, p.Limit, p.Offset), nil
}

func (s *GenericStore[T]) Count(ctx context.Context, tenantID string) (int64, error) {
	var total int64
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE tenant_id = $1 AND deleted_at IS NULL", s.table)
	if err := s.db.GetContext(ctx, &total, query, tenantID); err != nil {
		return 0, perrors.TransientStore("count:"+s.table, err)
	}
	return total, nil
}

// MergeGraphEdges applies domain.MergeEdges against the row currently
// stored for (tenantID, id), returning the merged slice ready to write back.
// Used by handlers that append edges (dreaming, traversal discovery)
// without clobbering edges written concurrently by another task.
func (s *GenericStore[T]) MergeGraphEdges(ctx context.Context, tenantID, id string, newEdges []domain.Edge) ([]domain.Edge, error) {
	var existing domain.EdgeList
	query := fmt.Sprintf("SELECT graph_edges FROM %s WHERE id = $1 AND tenant_id = $2", s.table)
	row := s.db.QueryRowContext(ctx, query, id, tenantID)
	if err := row.Scan(&existing); err != nil {
		return nil, perrors.TransientStore("merge_graph_edges:"+s.table, err)
	}
	return domain.MergeEdges(existing, newEdges), nil
}

// MergeGraphEdgesByTable is MergeGraphEdges's table-name-parameterised twin,
// used by callers that discover the source table dynamically (the dreaming
// handler's `dreamed_from` back-edge write, §4.9) instead of holding a
// GenericStore[T] bound to one fixed table.
func MergeGraphEdgesByTable(ctx context.Context, db *sqlx.DB, table, tenantID, id string, newEdges []domain.Edge) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return perrors.TransientStore("merge_graph_edges_by_table:begin", err)
	}
	defer tx.Rollback()

	var existing domain.EdgeList
	selectQuery := fmt.Sprintf("SELECT graph_edges FROM %s WHERE id = $1 AND tenant_id = $2 FOR UPDATE", table)
	if err := tx.QueryRowContext(ctx, selectQuery, id, tenantID).Scan(&existing); err != nil {
		return perrors.TransientStore("merge_graph_edges_by_table:select:"+table, err)
	}

	merged := domain.MergeEdges(existing, newEdges)
	updateQuery := fmt.Sprintf("UPDATE %s SET graph_edges = $1, updated_at = now() WHERE id = $2 AND tenant_id = $3", table)
	if _, err := tx.ExecContext(ctx, updateQuery, domain.EdgeList(merged), id, tenantID); err != nil {
		return perrors.TransientStore("merge_graph_edges_by_table:update:"+table, err)
	}

	if err := tx.Commit(); err != nil {
		return perrors.TransientStore("merge_graph_edges_by_table:commit", err)
	}
	return nil
}
