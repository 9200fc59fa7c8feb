package chatmemory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

const summaryTruncateChars = 2000

// buildSessionChunkMoment aggregates messages since the last session_chunk
// marker into a new moment, per §4.6's "Moment building" algorithm. Caller
// already checked the uncovered-token threshold; this only skips if there
// are literally no messages to aggregate.
func (s *Service) buildSessionChunkMoment(ctx context.Context, tx *sqlx.Tx, tenantID, sessionID string, mode crypto.Mode) (*domain.Moment, error) {
	var lastMomentAt *time.Time
	_ = tx.GetContext(ctx, &lastMomentAt, `
		SELECT max(created_at) FROM moments
		WHERE moment_type = $1 AND name LIKE $2`,
		domain.MomentSessionChunk, "session-"+sessionKeyHash(sessionID)+"-%")

	query := `SELECT count(*), coalesce(sum(input_tokens+output_tokens),0), min(created_at), max(created_at)
		FROM messages WHERE session_id = $1 AND message_type = $2`
	args := []any{sessionID, domain.MessageAssistant}
	if lastMomentAt != nil {
		query += " AND created_at > $3"
		args = append(args, *lastMomentAt)
	}

	var count int
	var tokenSum int64
	var minTS, maxTS *time.Time
	row := tx.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&count, &tokenSum, &minTS, &maxTS); err != nil {
		return nil, perrors.TransientStore("build_moment:aggregate", err)
	}
	if count == 0 {
		return nil, nil
	}

	var rows []struct {
		ID              string                 `db:"id"`
		Content         string                 `db:"content"`
		EncryptionLevel domain.EncryptionLevel `db:"encryption_level"`
	}
	contentQuery := `SELECT id, content, encryption_level FROM messages WHERE session_id = $1 AND message_type = $2`
	contentArgs := []any{sessionID, domain.MessageAssistant}
	if lastMomentAt != nil {
		contentQuery += " AND created_at > $3"
		contentArgs = append(contentArgs, *lastMomentAt)
	}
	contentQuery += " ORDER BY created_at ASC"
	if err := tx.SelectContext(ctx, &rows, contentQuery, contentArgs...); err != nil {
		return nil, perrors.TransientStore("build_moment:contents", err)
	}

	contents := make([]string, 0, len(rows))
	for _, r := range rows {
		plaintext, err := s.envelope.DecryptField(ctx, modeOf(r.EncryptionLevel), tenantID, r.ID, r.Content)
		if err != nil {
			return nil, err
		}
		contents = append(contents, plaintext)
	}

	summary := truncateSummary(joinContents(contents), summaryTruncateChars)

	index, err := nextChunkIndex(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	day := time.Now().UTC()
	if maxTS != nil {
		day = maxTS.UTC()
	}
	name := momentName(sessionID, day, index)
	id := domain.DeterministicID(domain.DefaultNamespace, "moments", name)

	starts := time.Now()
	if minTS != nil {
		starts = *minTS
	}

	encryptedSummary, err := s.envelope.EncryptField(ctx, mode, tenantID, id, summary, false)
	if err != nil {
		return nil, err
	}

	moment := domain.Moment{
		Envelope:        domain.Envelope{ID: id, TenantID: tenantID, CreatedAt: time.Now(), UpdatedAt: time.Now(), EncryptionLevel: encryptionLevel(mode)},
		Name:            name,
		MomentType:      domain.MomentSessionChunk,
		Summary:         encryptedSummary,
		StartsTimestamp: starts,
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO moments (id, tenant_id, name, moment_type, summary, starts_timestamp, created_at, updated_at, encryption_level)
		VALUES (:id, :tenant_id, :name, :moment_type, :summary, :starts_timestamp, :created_at, :updated_at, :encryption_level)
		ON CONFLICT (id) DO UPDATE SET summary = EXCLUDED.summary, updated_at = EXCLUDED.updated_at`,
		moment)
	if err != nil {
		return nil, perrors.TransientStore("build_moment:upsert", err)
	}

	hint := truncateSummary(summary, 200)
	metadataUpdate := map[string]any{
		"latest_moment_id": id,
		"latest_summary":   hint,
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			metadata = coalesce(metadata, '{}'::jsonb) || $1::jsonb,
			updated_at = now()
		WHERE id = $2 AND tenant_id = $3`,
		jsonbLiteral(metadataUpdate), sessionID, tenantID); err != nil {
		return nil, perrors.TransientStore("build_moment:session_metadata", err)
	}

	return &moment, nil
}

// BuildMomentNow forces a session_chunk moment build regardless of the
// uncovered-token threshold, used by the dreaming handler's phase 1
// (§4.9) which compacts a batch of sessions unconditionally rather than
// waiting for PersistTurn's threshold gate.
func (s *Service) BuildMomentNow(ctx context.Context, tenantID, sessionID string, mode crypto.Mode) (*domain.Moment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, perrors.TransientStore("build_moment_now:begin", err)
	}
	defer tx.Rollback()

	moment, err := s.buildSessionChunkMoment(ctx, tx, tenantID, sessionID, mode)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, perrors.TransientStore("build_moment_now:commit", err)
	}
	return moment, nil
}

func nextChunkIndex(ctx context.Context, tx *sqlx.Tx, sessionID string) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count,
		`SELECT count(*) FROM moments WHERE moment_type = $1 AND name LIKE $2`,
		domain.MomentSessionChunk, "session-"+sessionKeyHash(sessionID)+"-%")
	if err != nil {
		return 0, perrors.TransientStore("next_chunk_index", err)
	}
	return count, nil
}

func joinContents(contents []string) string {
	out := ""
	for i, c := range contents {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}

func truncateSummary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func jsonbLiteral(m map[string]any) string {
	b, _ := json.Marshal(m)
	return string(b)
}
