package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// SourceReader implements internal/embedding.SourceReader: it reads the
// embedding source field directly off whatever entity table the queue
// entry names, decrypting it first if the row was written encrypted.
// Grounded on internal/rem.Engine.loadSourceRow's MapScan-over-a-dynamic-
// table shape.
type SourceReader struct {
	db       *sqlx.DB
	envelope *crypto.Service
}

func NewSourceReader(db *sqlx.DB, envelope *crypto.Service) *SourceReader {
	return &SourceReader{db: db, envelope: envelope}
}

func (r *SourceReader) ReadField(ctx context.Context, table, entityID, field string) (string, error) {
	query := fmt.Sprintf("SELECT %s, tenant_id, encryption_level FROM %s WHERE id = $1", field, table)
	row := map[string]any{}
	rows, err := r.db.QueryxContext(ctx, query, entityID)
	if err != nil {
		return "", perrors.TransientStore("source_reader:"+table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", perrors.NotFound(table, entityID)
	}
	if err := rows.MapScan(row); err != nil {
		return "", perrors.Internal("source_reader:mapscan", err)
	}

	value, _ := row[field].(string)
	if value == "" {
		return "", nil
	}

	level, _ := row["encryption_level"].(string)
	mode := modeFromLevel(domain.EncryptionLevel(level))
	if mode == crypto.ModeDisabled {
		return value, nil
	}

	tenantID, _ := row["tenant_id"].(string)
	plaintext, err := r.envelope.DecryptField(ctx, mode, tenantID, entityID, value)
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// modeFromLevel inverts the encryption_level a row was stamped with,
// mirroring internal/chatmemory/context.go's unexported modeOf.
func modeFromLevel(level domain.EncryptionLevel) crypto.Mode {
	switch level {
	case domain.EncryptionPlatform:
		return crypto.ModePlatform
	case domain.EncryptionClient:
		return crypto.ModeClient
	case domain.EncryptionSealed:
		return crypto.ModeSealed
	default:
		return crypto.ModeDisabled
	}
}
