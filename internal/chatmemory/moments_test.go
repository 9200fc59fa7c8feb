package chatmemory

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
)

func TestBuildMomentNowAggregatesAssistantMessagesIntoAMoment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT max\(created_at\) FROM moments\s+WHERE moment_type = \$1 AND name LIKE \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(`SELECT count\(\*\), coalesce\(sum\(input_tokens\+output_tokens\),0\), min\(created_at\), max\(created_at\)\s+FROM messages WHERE session_id = \$1 AND message_type = \$2`).
		WithArgs("s1", domain.MessageAssistant).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "min", "max"}).AddRow(2, int64(15), t1, t2))
	mock.ExpectQuery(`SELECT id, content, encryption_level FROM messages WHERE session_id = \$1 AND message_type = \$2`).
		WithArgs("s1", domain.MessageAssistant).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "encryption_level"}).
			AddRow("a1", "first reply", "none").
			AddRow("a2", "second reply", "none"))
	mock.ExpectQuery(`SELECT count\(\*\) FROM moments WHERE moment_type = \$1 AND name LIKE \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO moments`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE sessions SET\s+metadata = coalesce\(metadata, '\{\}'::jsonb\) \|\| \$1::jsonb`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := newTestChatService(t, sqlxDB)
	moment, err := svc.BuildMomentNow(context.Background(), "t1", "s1", crypto.ModeDisabled)
	if err != nil {
		t.Fatalf("BuildMomentNow: %v", err)
	}
	if moment == nil {
		t.Fatal("expected a moment to be built")
	}
	if moment.MomentType != domain.MomentSessionChunk {
		t.Errorf("got moment type %s", moment.MomentType)
	}
	if moment.Summary != "first reply second reply" {
		t.Errorf("got summary %q", moment.Summary)
	}
}

func TestBuildMomentNowSkipsWhenNoMessagesToAggregate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT max\(created_at\) FROM moments`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(`SELECT count\(\*\), coalesce\(sum\(input_tokens\+output_tokens\),0\), min\(created_at\), max\(created_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "min", "max"}).AddRow(0, int64(0), nil, nil))
	mock.ExpectCommit()

	svc := newTestChatService(t, sqlxDB)
	moment, err := svc.BuildMomentNow(context.Background(), "t1", "s1", crypto.ModeDisabled)
	if err != nil {
		t.Fatalf("BuildMomentNow: %v", err)
	}
	if moment != nil {
		t.Errorf("expected no moment when there are no assistant messages, got %+v", moment)
	}
}

func TestJoinContentsJoinsWithSpaces(t *testing.T) {
	got := joinContents([]string{"a", "b", "c"})
	if got != "a b c" {
		t.Errorf("got %q", got)
	}
}

func TestJoinContentsEmptyInput(t *testing.T) {
	if got := joinContents(nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestTruncateSummaryLeavesShortStringsAlone(t *testing.T) {
	if got := truncateSummary("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestTruncateSummaryCutsLongStrings(t *testing.T) {
	got := truncateSummary("abcdefghij", 5)
	if got != "abcde" {
		t.Errorf("got %q", got)
	}
}

func TestJsonbLiteralMarshalsMap(t *testing.T) {
	got := jsonbLiteral(map[string]any{"a": "b"})
	if got != `{"a":"b"}` {
		t.Errorf("got %q", got)
	}
}
