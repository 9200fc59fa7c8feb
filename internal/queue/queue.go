// Package queue implements the single-table tiered task queue (§4.8):
// atomic claim under contention, completion, backoff retry, and stale-task
// recovery, plus the quota gating the worker runtime consults before
// dispatch.
package queue

import (
	"context"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/platform/metrics"
	"github.com/percolation-labs/p8k8/internal/platform/pgnotify"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// staleAfter is the soft deadline (§5 "Timeouts") after which a processing
// row is assumed abandoned by a dead worker.
const staleAfter = 15 * time.Minute

// backoffBase and backoffFactor implement §4.8's "30s · 4^retry_count"
// schedule (30s, 2m, 8m, 32m...).
const (
	backoffBase   = 30 * time.Second
	backoffFactor = 4
)

// Service is the task_queue data access layer shared by the worker runtime
// and the scheduler's periodic enqueuers.
type Service struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
}

func NewService(db *sqlx.DB) *Service {
	return &Service{db: db, metrics: metrics.Global()}
}

// Enqueue inserts a new pending row. priority defaults are the caller's
// concern; scheduledAt zero means "now".
func (s *Service) Enqueue(ctx context.Context, task domain.Task) (string, error) {
	if task.ID == "" {
		task.ID = domain.NewID()
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = time.Now()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = 3
	}
	task.Status = domain.TaskPending
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO task_queue (id, task_type, tier, tenant_id, user_id, payload, status,
			priority, scheduled_at, retry_count, max_retries)
		VALUES (:id, :task_type, :tier, :tenant_id, :user_id, :payload, :status,
			:priority, :scheduled_at, :retry_count, :max_retries)`,
		task)
	if err != nil {
		return "", perrors.TransientStore("queue_enqueue", err)
	}
	// Best-effort wake-up: a dropped NOTIFY only costs the claim loop one
	// extra poll tick, so failures here are never surfaced to the caller.
	_ = pgnotify.Publish(ctx, s.db, pgnotify.TaskQueueChannel, map[string]string{"task_id": task.ID, "tier": string(task.Tier)})
	return task.ID, nil
}

// Claim implements §4.8's claim(tier, worker_id, batch): the next batch
// pending rows for that tier due by now, ordered priority DESC then
// scheduled_at ASC, locked under FOR UPDATE SKIP LOCKED so parallel workers
// never contend on the same row.
func (s *Service) Claim(ctx context.Context, tier domain.Tier, workerID string, batch int) ([]domain.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, perrors.TransientStore("queue_claim:begin", err)
	}
	defer tx.Rollback()

	var rows []domain.Task
	err = tx.SelectContext(ctx, &rows, `
		SELECT * FROM task_queue
		WHERE tier = $1 AND status = $2 AND scheduled_at <= now()
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		tier, domain.TaskPending, batch)
	if err != nil {
		return nil, perrors.TransientStore("queue_claim:select", err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(rows))
	now := time.Now()
	for i := range rows {
		ids[i] = rows[i].ID
		rows[i].Status = domain.TaskProcessing
		rows[i].ClaimedAt = &now
		rows[i].ClaimedBy = workerID
		rows[i].StartedAt = &now
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE task_queue SET status = $1, claimed_at = $2, claimed_by = $3, started_at = $2
		WHERE id = ANY($4)`,
		domain.TaskProcessing, now, workerID, pq.Array(ids)); err != nil {
		return nil, perrors.TransientStore("queue_claim:update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, perrors.TransientStore("queue_claim:commit", err)
	}
	for _, t := range rows {
		s.metrics.RecordTaskClaim(t.TaskType, string(t.Tier))
	}
	return rows, nil
}

// Complete marks a task completed, stamping an optional result payload.
func (s *Service) Complete(ctx context.Context, id string, result domain.JSONMap) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_queue SET status = $1, result = $2, completed_at = now()
		WHERE id = $3`,
		domain.TaskCompleted, result, id)
	if err != nil {
		return perrors.TransientStore("queue_complete", err)
	}
	return nil
}

// Fail implements §4.8's fail-with-backoff: retry with an exponential
// schedule while retries remain, else a terminal failed status.
func (s *Service) Fail(ctx context.Context, id string, cause error) error {
	var task domain.Task
	if err := s.db.GetContext(ctx, &task, `SELECT * FROM task_queue WHERE id = $1`, id); err != nil {
		return perrors.TransientStore("queue_fail:load", err)
	}

	retryCount := task.RetryCount + 1
	if retryCount < task.MaxRetries {
		scheduledAt := time.Now().Add(Backoff(task.RetryCount))
		_, err := s.db.ExecContext(ctx, `
			UPDATE task_queue SET status = $1, retry_count = $2, scheduled_at = $3,
				error = $4, claimed_at = NULL, claimed_by = NULL, started_at = NULL
			WHERE id = $5`,
			domain.TaskPending, retryCount, scheduledAt, cause.Error(), id)
		if err != nil {
			return perrors.TransientStore("queue_fail:retry", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE task_queue SET status = $1, retry_count = $2, error = $3, completed_at = now()
		WHERE id = $4`,
		domain.TaskFailed, retryCount, cause.Error(), id)
	if err != nil {
		return perrors.TransientStore("queue_fail:terminal", err)
	}
	return nil
}

// Backoff returns the delay before the next retry given the number of
// retries already spent, per §4.8's "30s, 2m, 8m, 32m..." schedule
// (30s · 4^priorRetries): the first retry (priorRetries=0) waits 30s, the
// second (priorRetries=1) waits 2m, and so on.
func Backoff(priorRetries int) time.Duration {
	return time.Duration(float64(backoffBase) * math.Pow(backoffFactor, float64(priorRetries)))
}

// RecoverStale implements §4.8's stale recovery: processing rows claimed
// longer ago than staleAfter are reset to pending (if retries remain) or
// marked failed, same as a Fail call but driven by the clock instead of a
// handler error.
func (s *Service) RecoverStale(ctx context.Context) (int, error) {
	var stale []domain.Task
	cutoff := time.Now().Add(-staleAfter)
	err := s.db.SelectContext(ctx, &stale, `
		SELECT * FROM task_queue WHERE status = $1 AND claimed_at < $2`,
		domain.TaskProcessing, cutoff)
	if err != nil {
		return 0, perrors.TransientStore("queue_recover_stale:select", err)
	}
	for _, t := range stale {
		if err := s.Fail(ctx, t.ID, perrors.New(perrors.CodeScheduleStale, "task stale: claimed_at older than 15m")); err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 {
		s.metrics.StaleRecoveredTotal.Add(float64(len(stale)))
	}
	return len(stale), nil
}

// AdminReset force-transitions a row back to pending regardless of its
// current status, the one operator-triggered exception to §8 invariant 7's
// "status only moves forward" rule. Logged at warn by the caller, not here,
// so a single call site (cmd/appserver's admin command) owns the audit line.
func (s *Service) AdminReset(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_queue SET status = $1, claimed_at = NULL, claimed_by = NULL,
			started_at = NULL, error = NULL
		WHERE id = $2`,
		domain.TaskPending, id)
	if err != nil {
		return perrors.TransientStore("queue_admin_reset", err)
	}
	return nil
}

// Depth reports the pending row count per tier, used to drive the
// QueueDepth gauge from the scheduler's periodic tick.
func (s *Service) Depth(ctx context.Context) (map[domain.Tier]int64, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT tier, count(*) AS n FROM task_queue WHERE status = $1 GROUP BY tier`,
		domain.TaskPending)
	if err != nil {
		return nil, perrors.TransientStore("queue_depth", err)
	}
	defer rows.Close()

	out := map[domain.Tier]int64{}
	for rows.Next() {
		var tier domain.Tier
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, perrors.Internal("queue_depth:scan", err)
		}
		out[tier] = n
	}
	return out, nil
}
