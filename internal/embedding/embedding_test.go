package embedding

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/percolation-labs/p8k8/internal/domain"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Provider() string { return "fake" }

type fakeSource struct {
	text string
	err  error
}

func (f *fakeSource) ReadField(ctx context.Context, table, entityID, field string) (string, error) {
	return f.text, f.err
}

func newTestWorker(t *testing.T, embedder Embedder, source SourceReader) (*Worker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	w := NewWorker(sqlxDB, embedder, source, rate.Inf, zerolog.Nop())
	return w, mock
}

func TestClaimBatchNoRowsCommits(t *testing.T) {
	w, mock := newTestWorker(t, &fakeEmbedder{}, &fakeSource{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM embedding_queue`).
		WithArgs(domain.EmbeddingQueuePending, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	rows, err := w.ClaimBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestProcessEntryUnchangedContentSkipsEmbedAndDropsEntry(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	w, mock := newTestWorker(t, embedder, &fakeSource{text: "hello world"})

	entry := domain.EmbeddingQueueEntry{ID: "q1", Table: "moments", EntityID: "m1", Field: "summary"}
	existingHash := hashContent("hello world")

	mock.ExpectQuery(`SELECT content_hash FROM embeddings_moments`).
		WithArgs("m1", "summary", "fake").
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}).AddRow(existingHash))
	mock.ExpectExec(`DELETE FROM embedding_queue WHERE id = \$1`).
		WithArgs("q1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := w.ProcessEntry(context.Background(), entry); err != nil {
		t.Fatalf("process entry: %v", err)
	}
	if embedder.calls != 0 {
		t.Errorf("expected embedder not to be called for unchanged content, got %d calls", embedder.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestProcessEntryChangedContentEmbedsAndUpserts(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	w, mock := newTestWorker(t, embedder, &fakeSource{text: "new content"})

	entry := domain.EmbeddingQueueEntry{ID: "q2", Table: "moments", EntityID: "m2", Field: "summary"}

	mock.ExpectQuery(`SELECT content_hash FROM embeddings_moments`).
		WithArgs("m2", "summary", "fake").
		WillReturnError(sqlNoRowsErr{})
	mock.ExpectExec(`INSERT INTO embeddings_moments`).
		WithArgs("m2", "summary", sqlmock.AnyArg(), "fake", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM embedding_queue WHERE id = \$1`).
		WithArgs("q2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := w.ProcessEntry(context.Background(), entry); err != nil {
		t.Fatalf("process entry: %v", err)
	}
	if embedder.calls != 1 {
		t.Errorf("expected embedder to be called once, got %d", embedder.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestProcessEntrySourceErrorRetriesThenFails(t *testing.T) {
	w, mock := newTestWorker(t, &fakeEmbedder{}, &fakeSource{err: errBoom{}})

	entry := domain.EmbeddingQueueEntry{ID: "q3", Table: "moments", EntityID: "m3", Field: "summary", Attempts: maxAttempts - 1}

	mock.ExpectExec(`UPDATE embedding_queue SET status = \$1`).
		WithArgs(domain.EmbeddingQueueFailed, maxAttempts, sqlmock.AnyArg(), "q3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := w.ProcessEntry(context.Background(), entry); err != nil {
		t.Fatalf("process entry should record the failure rather than return it: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunStopsImmediatelyOnCancelledContext(t *testing.T) {
	w, _ := newTestWorker(t, &fakeEmbedder{}, &fakeSource{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 5, time.Minute, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected Run to exit cleanly on cancelled context, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit promptly on cancelled context")
	}
}

type sqlNoRowsErr struct{}

func (sqlNoRowsErr) Error() string { return "sql: no rows in result set" }

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
