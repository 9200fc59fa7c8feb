// Package embedding implements the embedding pipeline (§4.7): claiming
// embedding_queue rows under skip-locked semantics, calling the configured
// provider, and upserting embeddings_<table> rows keyed by
// (entity_id, field, provider).
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/platform/metrics"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

const maxAttempts = 3

// Embedder is the external-collaborator seam this pipeline calls into;
// internal/llm supplies the production implementation.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Provider() string
}

// SourceReader reads the plaintext embedding source field off the row the
// queue entry references, already decrypted if the table is encrypted.
type SourceReader interface {
	ReadField(ctx context.Context, table, entityID, field string) (string, error)
}

// Worker claims and processes embedding_queue batches.
type Worker struct {
	db       *sqlx.DB
	embedder Embedder
	source   SourceReader
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewWorker builds an embedding Worker. providerRPS bounds outbound calls
// to the embedding provider, the same per-process rate.Limiter idiom
// internal/worker.NewRuntime uses for its LLM calls.
func NewWorker(db *sqlx.DB, embedder Embedder, source SourceReader, providerRPS rate.Limit, log zerolog.Logger) *Worker {
	return &Worker{db: db, embedder: embedder, source: source, limiter: rate.NewLimiter(providerRPS, 1), log: log}
}

// Run loops claim -> process for one process until ctx is cancelled, the
// same claim/wait shape as internal/worker.Runtime.Run. wake, if non-nil,
// is a pgnotify-fed channel (SPEC_FULL.md C.2) that short-circuits the poll
// sleep as soon as a has_embeddings trigger fires.
func (w *Worker) Run(ctx context.Context, batchSize int, pollInterval time.Duration, wake <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := w.ClaimBatch(ctx, batchSize)
		if err != nil {
			w.log.Error().Err(err).Msg("embedding claim failed")
			w.wait(ctx, pollInterval, wake)
			continue
		}
		if len(entries) == 0 {
			w.wait(ctx, pollInterval, wake)
			continue
		}

		for _, entry := range entries {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := w.ProcessEntry(ctx, entry); err != nil {
				w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("embedding process failed")
			}
		}
	}
}

func (w *Worker) wait(ctx context.Context, pollInterval time.Duration, wake <-chan struct{}) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}

// ClaimBatch selects up to batchSize pending rows, oldest first, under
// row-level FOR UPDATE SKIP LOCKED so multiple workers never double-process
// the same entry.
func (w *Worker) ClaimBatch(ctx context.Context, batchSize int) ([]domain.EmbeddingQueueEntry, error) {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, perrors.TransientStore("embedding_claim:begin", err)
	}
	defer tx.Rollback()

	var rows []domain.EmbeddingQueueEntry
	err = tx.SelectContext(ctx, &rows, `
		SELECT * FROM embedding_queue
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		domain.EmbeddingQueuePending, batchSize)
	if err != nil {
		return nil, perrors.TransientStore("embedding_claim:select", err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	if _, err := tx.ExecContext(ctx, `UPDATE embedding_queue SET updated_at = now() WHERE id = ANY($1)`,
		pq.Array(ids)); err != nil {
		return nil, perrors.TransientStore("embedding_claim:touch", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, perrors.TransientStore("embedding_claim:commit", err)
	}
	return rows, nil
}

// ProcessEntry embeds one queue entry's source text and upserts the
// resulting vector, or records failure per §4.7's retry rule.
func (w *Worker) ProcessEntry(ctx context.Context, entry domain.EmbeddingQueueEntry) error {
	text, err := w.source.ReadField(ctx, entry.Table, entry.EntityID, entry.Field)
	if err != nil {
		return w.fail(ctx, entry, err)
	}

	contentHash := hashContent(text)
	unchanged, err := w.hasUnchangedEmbedding(ctx, entry, contentHash)
	if err != nil {
		return w.fail(ctx, entry, err)
	}
	if unchanged {
		return w.dropQueueEntry(ctx, entry.ID)
	}

	vectors, err := w.embedder.Embed(ctx, []string{text})
	if err != nil {
		return w.fail(ctx, entry, err)
	}
	if len(vectors) == 0 {
		return w.fail(ctx, entry, fmt.Errorf("embedder returned no vectors"))
	}

	if err := w.upsertEmbedding(ctx, entry, vectors[0], contentHash); err != nil {
		return w.fail(ctx, entry, err)
	}
	return w.dropQueueEntry(ctx, entry.ID)
}

func (w *Worker) hasUnchangedEmbedding(ctx context.Context, entry domain.EmbeddingQueueEntry, contentHash string) (bool, error) {
	table := fmt.Sprintf("embeddings_%s", entry.Table)
	var existingHash string
	query := fmt.Sprintf(`SELECT content_hash FROM %s WHERE entity_id = $1 AND field = $2 AND provider = $3`, table)
	err := w.db.GetContext(ctx, &existingHash, query, entry.EntityID, entry.Field, w.embedder.Provider())
	if err != nil {
		return false, nil
	}
	return existingHash == contentHash, nil
}

func (w *Worker) upsertEmbedding(ctx context.Context, entry domain.EmbeddingQueueEntry, vector []float32, contentHash string) error {
	table := fmt.Sprintf("embeddings_%s", entry.Table)
	query := fmt.Sprintf(`
		INSERT INTO %s (entity_id, field, vector, provider, content_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (entity_id, field, provider) DO UPDATE SET
			vector = EXCLUDED.vector,
			content_hash = EXCLUDED.content_hash,
			updated_at = EXCLUDED.updated_at`, table)
	_, err := w.db.ExecContext(ctx, query, entry.EntityID, entry.Field, pgvectorLiteral(vector), w.embedder.Provider(), contentHash)
	if err != nil {
		return perrors.TransientStore("embedding_upsert:"+table, err)
	}
	return nil
}

func (w *Worker) dropQueueEntry(ctx context.Context, id string) error {
	_, err := w.db.ExecContext(ctx, `DELETE FROM embedding_queue WHERE id = $1`, id)
	if err != nil {
		return perrors.TransientStore("embedding_queue_drop", err)
	}
	return nil
}

// fail implements §4.7's retry rule: reset to pending with attempts++ up
// to maxAttempts, after which the row is marked failed with the error text.
func (w *Worker) fail(ctx context.Context, entry domain.EmbeddingQueueEntry, cause error) error {
	attempts := entry.Attempts + 1
	status := domain.EmbeddingQueuePending
	if attempts >= maxAttempts {
		status = domain.EmbeddingQueueFailed
		metrics.Global().EmbeddingFailuresTotal.Inc()
	}
	_, err := w.db.ExecContext(ctx, `
		UPDATE embedding_queue SET status = $1, attempts = $2, error = $3, updated_at = now()
		WHERE id = $4`,
		status, attempts, cause.Error(), entry.ID)
	if err != nil {
		return perrors.TransientStore("embedding_fail", err)
	}
	return nil
}

func hashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func pgvectorLiteral(v []float32) string {
	out := "["
	for i, f := range v {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%g", f)
	}
	return out + "]"
}
