package chatmemory

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/kms"
	"github.com/percolation-labs/p8k8/internal/platform/config"
)

func newTestChatService(t *testing.T, sqlxDB *sqlx.DB) *Service {
	t.Helper()
	adapter, err := kms.New(config.KMSConfig{Provider: "local", LocalMasterKey: "12345678901234567890123456789012"})
	if err != nil {
		t.Fatalf("kms.New: %v", err)
	}
	return NewService(sqlxDB, crypto.NewService(adapter, newMemKeyStoreForTest()))
}

// memKeyStoreForTest mirrors internal/crypto's test fake; chatmemory's
// tests never exercise an encrypted mode so it is never actually consulted.
type memKeyStoreForTest struct{}

func newMemKeyStoreForTest() *memKeyStoreForTest { return &memKeyStoreForTest{} }

func (*memKeyStoreForTest) GetTenantKey(ctx context.Context, tenantID string) (*domain.TenantKey, error) {
	return nil, nil
}

func (*memKeyStoreForTest) PutTenantKey(ctx context.Context, key *domain.TenantKey) error {
	return nil
}

func TestLoadContextWindowsByBudgetAndBreadcrumbsOlderCoveredMessages(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	t3 := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	momentAt := time.Date(2026, 1, 1, 1, 30, 0, 0, time.UTC)

	cols := []string{"id", "tenant_id", "session_id", "message_type", "content", "agent_name",
		"input_tokens", "output_tokens", "created_at", "updated_at", "encryption_level"}
	mock.ExpectQuery(`SELECT \* FROM messages\s+WHERE session_id = \$1 AND tenant_id = \$2\s+ORDER BY created_at DESC`).
		WithArgs("s1", "t1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m3", "t1", "s1", domain.MessageAssistant, "latest reply", "planner", int64(6), int64(4), t3, t3, "none").
			AddRow("m2", "t1", "s1", domain.MessageUser, "middle question", "", int64(0), int64(0), t2, t2, "none").
			AddRow("m1", "t1", "s1", domain.MessageAssistant, "earliest reply", "planner", int64(3), int64(2), t1, t1, "none"))

	mock.ExpectQuery(`SELECT \* FROM moments\s+WHERE moment_type = \$1 AND name LIKE \$2\s+ORDER BY created_at DESC LIMIT 1`).
		WithArgs(domain.MomentSessionChunk, "session-"+sessionKeyHash("s1")+"-%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "moment_type", "summary", "starts_timestamp", "created_at", "updated_at", "encryption_level"}).
			AddRow("mo1", "t1", "session-abc123-chunk-0", domain.MomentSessionChunk, "earlier summary", t1, momentAt, momentAt, "none"))

	svc := newTestChatService(t, sqlxDB)
	rows, err := svc.LoadContext(context.Background(), "t1", "s1", 0, 1)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3: %+v", len(rows), rows)
	}
	if rows[0].MessageType != domain.MessageSystem || rows[0].Content != "earlier summary" {
		t.Errorf("row 0 should be the moment summary, got %+v", rows[0])
	}
	if rows[1].MessageType != domain.MessageSystem {
		t.Errorf("row 1 should be a breadcrumb for the covered assistant message, got %+v", rows[1])
	}
	if rows[2].Content != "latest reply" {
		t.Errorf("row 2 should be the windowed latest message, got %+v", rows[2])
	}
}

func TestLoadContextSkipsToolMessages(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	now := time.Now().UTC()
	cols := []string{"id", "tenant_id", "session_id", "message_type", "content", "agent_name",
		"input_tokens", "output_tokens", "created_at", "updated_at", "encryption_level"}
	mock.ExpectQuery(`SELECT \* FROM messages`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c1", "t1", "s1", domain.MessageToolCall, "", "", int64(0), int64(0), now, now, "none").
			AddRow("r1", "t1", "s1", domain.MessageToolResponse, "", "", int64(0), int64(0), now, now, "none").
			AddRow("a1", "t1", "s1", domain.MessageAssistant, "hello", "planner", int64(1), int64(1), now, now, "none"))
	mock.ExpectQuery(`SELECT \* FROM moments`).
		WillReturnError(errBoomCtx{})

	svc := newTestChatService(t, sqlxDB)
	rows, err := svc.LoadContext(context.Background(), "t1", "s1", 1000, 10)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	if len(rows) != 1 || rows[0].Content != "hello" {
		t.Errorf("expected only the assistant message to survive, got %+v", rows)
	}
}

type errBoomCtx struct{}

func (errBoomCtx) Error() string { return "boom" }

func TestBreadcrumbTruncatesLongHints(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	got := breadcrumb(string(long), "session-abc-chunk-0")
	if len(got) > 260 {
		t.Errorf("breadcrumb not truncated, len=%d", len(got))
	}
}

func TestModeOfRoundTripsEncryptionLevel(t *testing.T) {
	cases := []struct {
		level domain.EncryptionLevel
		mode  crypto.Mode
	}{
		{domain.EncryptionPlatform, crypto.ModePlatform},
		{domain.EncryptionClient, crypto.ModeClient},
		{domain.EncryptionSealed, crypto.ModeSealed},
		{domain.EncryptionDisabled, crypto.ModeDisabled},
		{domain.EncryptionNone, crypto.ModeDisabled},
	}
	for _, c := range cases {
		if got := modeOf(c.level); got != c.mode {
			t.Errorf("modeOf(%s) = %s, want %s", c.level, got, c.mode)
		}
	}
}
