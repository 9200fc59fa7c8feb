package postgres

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/kms"
	"github.com/percolation-labs/p8k8/internal/platform/config"
)

func newTestEnvelope(t *testing.T, db *sqlx.DB) *crypto.Service {
	t.Helper()
	adapter, err := kms.New(config.KMSConfig{Provider: "local", LocalMasterKey: "12345678901234567890123456789012"})
	if err != nil {
		t.Fatalf("kms.New: %v", err)
	}
	return crypto.NewService(adapter, NewTenantKeyStore(db))
}

func TestSourceReaderReadFieldPlaintextWhenDisabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT summary, tenant_id, encryption_level FROM moments WHERE id = \$1`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"summary", "tenant_id", "encryption_level"}).
			AddRow("plain text", "t1", "disabled"))

	r := NewSourceReader(sqlxDB, newTestEnvelope(t, sqlxDB))
	got, err := r.ReadField(context.Background(), "moments", "m1", "summary")
	if err != nil {
		t.Fatalf("read field: %v", err)
	}
	if got != "plain text" {
		t.Errorf("got %q, want %q", got, "plain text")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSourceReaderReadFieldEmptyValueShortCircuits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT summary, tenant_id, encryption_level FROM moments WHERE id = \$1`).
		WithArgs("m2").
		WillReturnRows(sqlmock.NewRows([]string{"summary", "tenant_id", "encryption_level"}).
			AddRow("", "t1", "platform"))

	r := NewSourceReader(sqlxDB, newTestEnvelope(t, sqlxDB))
	got, err := r.ReadField(context.Background(), "moments", "m2", "summary")
	if err != nil {
		t.Fatalf("read field: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestSourceReaderReadFieldNoRowsReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT summary, tenant_id, encryption_level FROM moments WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"summary", "tenant_id", "encryption_level"}))

	r := NewSourceReader(sqlxDB, newTestEnvelope(t, sqlxDB))
	if _, err := r.ReadField(context.Background(), "moments", "missing", "summary"); err == nil {
		t.Fatal("expected a not-found error")
	}
}

func TestSourceReaderReadFieldDecryptsEncryptedValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	envelope := newTestEnvelope(t, sqlxDB)

	mock.ExpectQuery(`SELECT tenant_id, wrapped_dek, kms_key_id, algorithm, mode, rotated_at, public_key_pem\s+FROM tenant_keys WHERE tenant_id = \$1`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "wrapped_dek", "kms_key_id", "algorithm", "mode", "rotated_at", "public_key_pem"}))
	mock.ExpectExec(`INSERT INTO tenant_keys`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ciphertext, err := envelope.EncryptField(context.Background(), crypto.ModePlatform, "t1", "m3", "secret text", false)
	if err != nil {
		t.Fatalf("encrypt fixture: %v", err)
	}

	mock.ExpectQuery(`SELECT summary, tenant_id, encryption_level FROM moments WHERE id = \$1`).
		WithArgs("m3").
		WillReturnRows(sqlmock.NewRows([]string{"summary", "tenant_id", "encryption_level"}).
			AddRow(ciphertext, "t1", "platform"))

	r := NewSourceReader(sqlxDB, envelope)
	got, err := r.ReadField(context.Background(), "moments", "m3", "summary")
	if err != nil {
		t.Fatalf("read field: %v", err)
	}
	if got != "secret text" {
		t.Errorf("got %q, want %q", got, "secret text")
	}
}
