package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// TenantKeyStore persists the wrapped-DEK row per tenant (§3 "Tenant
// keys"). It implements internal/crypto.TenantKeyStore.
type TenantKeyStore struct {
	db *sqlx.DB
}

func NewTenantKeyStore(db *sqlx.DB) *TenantKeyStore {
	return &TenantKeyStore{db: db}
}

func (s *TenantKeyStore) GetTenantKey(ctx context.Context, tenantID string) (*domain.TenantKey, error) {
	var tk domain.TenantKey
	err := s.db.GetContext(ctx, &tk,
		`SELECT tenant_id, wrapped_dek, kms_key_id, algorithm, mode, rotated_at, public_key_pem
		   FROM tenant_keys WHERE tenant_id = $1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.TransientStore("get_tenant_key", err)
	}
	return &tk, nil
}

func (s *TenantKeyStore) PutTenantKey(ctx context.Context, key *domain.TenantKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_keys (tenant_id, wrapped_dek, kms_key_id, algorithm, mode, rotated_at, public_key_pem)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			wrapped_dek = EXCLUDED.wrapped_dek,
			kms_key_id = EXCLUDED.kms_key_id,
			algorithm = EXCLUDED.algorithm,
			mode = EXCLUDED.mode,
			rotated_at = EXCLUDED.rotated_at,
			public_key_pem = EXCLUDED.public_key_pem`,
		key.TenantID, key.WrappedDEK, key.KMSKeyID, key.Algorithm, key.Mode, key.RotatedAt, key.PublicKeyPEM)
	if err != nil {
		return perrors.TransientStore("put_tenant_key", err)
	}
	return nil
}
