package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// SchemaRegistry reads the "schemas" table rows of kind=table, which drive
// every dynamic-dispatch decision in internal/rem and internal/kv: which
// tables have KV sync, which have embeddings and on what field, which are
// encrypted. Nothing in this core hard-codes a table list; it all comes
// from here (see DESIGN.md "Dynamic dispatch").
type SchemaRegistry struct {
	db *sqlx.DB
}

func NewSchemaRegistry(db *sqlx.DB) *SchemaRegistry {
	return &SchemaRegistry{db: db}
}

// Tables returns every registered entity table's control metadata.
func (r *SchemaRegistry) Tables(ctx context.Context) ([]domain.Schema, error) {
	var rows []domain.Schema
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM schemas WHERE kind = $1 AND deleted_at IS NULL ORDER BY name`,
		domain.SchemaKindTable)
	if err != nil {
		return nil, perrors.TransientStore("list_schemas", err)
	}
	return rows, nil
}

// TableByName returns one table's control metadata, or nil if unregistered.
func (r *SchemaRegistry) TableByName(ctx context.Context, name string) (*domain.Schema, error) {
	var row domain.Schema
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM schemas WHERE kind = $1 AND name = $2 AND deleted_at IS NULL`,
		domain.SchemaKindTable, name)
	if err != nil {
		return nil, nil
	}
	return &row, nil
}

// AgentByName returns an agent schema row by name, used by internal/agent
// to assemble a prompt.
func (r *SchemaRegistry) AgentByName(ctx context.Context, name string) (*domain.Schema, error) {
	var row domain.Schema
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM schemas WHERE kind = $1 AND name = $2 AND deleted_at IS NULL`,
		domain.SchemaKindAgent, name)
	if err != nil {
		return nil, perrors.NotFound("agent", name)
	}
	return &row, nil
}
