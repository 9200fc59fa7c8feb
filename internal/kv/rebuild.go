package kv

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// SchemaSource supplies the data-driven table registry (internal/store/
// postgres.SchemaRegistry), keeping the rebuild path free of any hard-coded
// table list (Design Note "Dynamic dispatch").
type SchemaSource interface {
	Tables(ctx context.Context) ([]domain.Schema, error)
}

// Rebuilder performs full and incremental KV-index rebuilds.
type Rebuilder struct {
	db      *sqlx.DB
	schemas SchemaSource
}

func NewRebuilder(db *sqlx.DB, schemas SchemaSource) *Rebuilder {
	return &Rebuilder{db: db, schemas: schemas}
}

// FullRebuild truncates the kv_store table and re-inserts from every
// source table with has_kv_sync=true. Used for crash recovery since the
// index is explicitly ephemeral (§4.4).
func (r *Rebuilder) FullRebuild(ctx context.Context) error {
	tables, err := kvSyncedTables(ctx, r.schemas)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return perrors.TransientStore("kv_full_rebuild:begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "TRUNCATE kv_store"); err != nil {
		return perrors.TransientStore("kv_full_rebuild:truncate", err)
	}

	var errs *multierror.Error
	for _, tc := range tables {
		if err := r.reinsertTable(ctx, tx, tc); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("table %s: %w", tc.TableName, err))
		}
	}
	if errs.ErrorOrNil() != nil {
		return errs
	}

	if err := tx.Commit(); err != nil {
		return perrors.TransientStore("kv_full_rebuild:commit", err)
	}
	return nil
}

// IncrementalRebuild upserts rows that differ from their current KV row and
// deletes KV rows whose source row no longer exists or was soft-deleted.
// Runs on the scheduler's hourly cadence as a self-healing pass — the
// triggers should have already kept kv_store current, so in the steady
// state this touches nothing.
func (r *Rebuilder) IncrementalRebuild(ctx context.Context) error {
	tables, err := kvSyncedTables(ctx, r.schemas)
	if err != nil {
		return err
	}

	var errs *multierror.Error
	for _, tc := range tables {
		if err := r.upsertWhereDiffers(ctx, tc); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("table %s upsert: %w", tc.TableName, err))
		}
		if err := r.deleteOrphans(ctx, tc); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("table %s orphans: %w", tc.TableName, err))
		}
	}
	return errs.ErrorOrNil()
}

func kvSyncedTables(ctx context.Context, schemas SchemaSource) ([]*domain.TableControl, error) {
	rows, err := schemas.Tables(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.TableControl
	for _, row := range rows {
		if row.TableControl != nil && row.TableControl.HasKVSync {
			out = append(out, row.TableControl)
		}
	}
	return out, nil
}

// reinsertTable re-materializes every non-deleted row of one source table
// into kv_store, computing the summary in Go (via EvalSummary) rather than
// pushing the gval expression into SQL.
func (r *Rebuilder) reinsertTable(ctx context.Context, tx *sqlx.Tx, tc *domain.TableControl) error {
	rows, err := r.loadSourceRows(ctx, tc)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.upsertRow(ctx, tx, tc, row); err != nil {
			return err
		}
	}
	return nil
}

// upsertWhereDiffers relies on upsertRowNoTx's ON CONFLICT ... WHERE clause
// to make re-upserting an unchanged row a no-op; there's no need for a
// separate diff pre-check.
func (r *Rebuilder) upsertWhereDiffers(ctx context.Context, tc *domain.TableControl) error {
	rows, err := r.loadSourceRows(ctx, tc)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.upsertRowNoTx(ctx, tc, row); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rebuilder) deleteOrphans(ctx context.Context, tc *domain.TableControl) error {
	query := fmt.Sprintf(`
		DELETE FROM kv_store k
		WHERE k.entity_type = $1
		  AND NOT EXISTS (
		    SELECT 1 FROM %s s
		    WHERE s.id = k.entity_id AND s.tenant_id = k.tenant_id AND s.deleted_at IS NULL
		  )`, tc.TableName)
	_, err := r.db.ExecContext(ctx, query, tc.TableName)
	if err != nil {
		return perrors.TransientStore("kv_delete_orphans:"+tc.TableName, err)
	}
	return nil
}

func (r *Rebuilder) loadSourceRows(ctx context.Context, tc *domain.TableControl) ([]map[string]any, error) {
	if tc == nil {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE deleted_at IS NULL", tc.TableName)
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, perrors.TransientStore("kv_load_source:"+tc.TableName, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, perrors.Internal("kv_load_source:mapscan:"+tc.TableName, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *Rebuilder) upsertRow(ctx context.Context, tx *sqlx.Tx, tc *domain.TableControl, row map[string]any) error {
	summary, err := EvalSummary(ctx, tc, row)
	if err != nil {
		return err
	}
	name, _ := row["name"].(string)
	id, _ := row["id"].(string)
	tenantID, _ := row["tenant_id"].(string)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_store (tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, entity_key) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			entity_id = EXCLUDED.entity_id,
			content_summary = EXCLUDED.content_summary,
			metadata = EXCLUDED.metadata,
			graph_edges = EXCLUDED.graph_edges
		WHERE kv_store.entity_id IS DISTINCT FROM EXCLUDED.entity_id
		   OR kv_store.content_summary IS DISTINCT FROM EXCLUDED.content_summary`,
		tenantID, NormaliseKey(name), tc.TableName, id, summary, row["metadata"], row["graph_edges"])
	if err != nil {
		return perrors.TransientStore("kv_upsert:"+tc.TableName, err)
	}
	return nil
}

func (r *Rebuilder) upsertRowNoTx(ctx context.Context, tc *domain.TableControl, row map[string]any) error {
	summary, err := EvalSummary(ctx, tc, row)
	if err != nil {
		return err
	}
	name, _ := row["name"].(string)
	id, _ := row["id"].(string)
	tenantID, _ := row["tenant_id"].(string)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO kv_store (tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, entity_key) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			entity_id = EXCLUDED.entity_id,
			content_summary = EXCLUDED.content_summary,
			metadata = EXCLUDED.metadata,
			graph_edges = EXCLUDED.graph_edges
		WHERE kv_store.entity_id IS DISTINCT FROM EXCLUDED.entity_id
		   OR kv_store.content_summary IS DISTINCT FROM EXCLUDED.content_summary`,
		tenantID, NormaliseKey(name), tc.TableName, id, summary, row["metadata"], row["graph_edges"])
	if err != nil {
		return perrors.TransientStore("kv_upsert:"+tc.TableName, err)
	}
	return nil
}
