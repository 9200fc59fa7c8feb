package redaction

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// PostgresMappings implements MappingStore against the redaction_mappings
// table, the same single-table upsert-by-primary-key shape as
// internal/store/postgres's TenantKeyStore.
type PostgresMappings struct {
	db *sqlx.DB
}

func NewPostgresMappings(db *sqlx.DB) *PostgresMappings {
	return &PostgresMappings{db: db}
}

func (s *PostgresMappings) Put(ctx context.Context, m domain.RedactionMapping) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO redaction_mappings (token, tenant_id, entity_id, session_id, ciphertext)
		VALUES (:token, :tenant_id, :entity_id, :session_id, :ciphertext)
		ON CONFLICT (token) DO NOTHING`,
		m)
	if err != nil {
		return perrors.TransientStore("redaction_mapping_put", err)
	}
	return nil
}

func (s *PostgresMappings) Get(ctx context.Context, tenantID, entityID, sessionID, token string) (string, error) {
	var ciphertext string
	err := s.db.GetContext(ctx, &ciphertext, `
		SELECT ciphertext FROM redaction_mappings
		WHERE token = $1 AND tenant_id = $2 AND entity_id = $3 AND session_id = $4`,
		token, tenantID, entityID, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", perrors.NotFound("redaction_mapping", token)
	}
	if err != nil {
		return "", perrors.TransientStore("redaction_mapping_get", err)
	}
	return ciphertext, nil
}
