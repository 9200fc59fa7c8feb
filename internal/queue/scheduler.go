package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/kv"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// Scheduler drives the periodic enqueuers of §4.8 on a cron(v3) schedule:
// dreaming hourly, news/reading_summary daily, stale recovery every 5
// minutes, and an incremental KV rebuild hourly as a self-healing pass
// alongside the trigger-fed index.
type Scheduler struct {
	db        *sqlx.DB
	queue     *Service
	rebuilder *kv.Rebuilder
	log       zerolog.Logger
	cron      *cron.Cron

	newsHour int // configurable time-of-day for the news enqueuer, §4.8
}

func NewScheduler(db *sqlx.DB, q *Service, rebuilder *kv.Rebuilder, log zerolog.Logger, newsHour int) *Scheduler {
	return &Scheduler{
		db:        db,
		queue:     q,
		rebuilder: rebuilder,
		log:       log,
		cron:      cron.New(),
		newsHour:  newsHour,
	}
}

// Start registers every periodic job and runs the cron loop until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{"7 * * * *", "dreaming_enqueue", s.enqueueDreaming},
		{fmt.Sprintf("0 %d * * *", s.newsHour), "news_enqueue", s.enqueueNews},
		{"23 2 * * *", "reading_summary_enqueue", s.enqueueReadingSummary},
		{"*/5 * * * *", "stale_recovery", s.recoverStale},
		{"13 * * * *", "kv_incremental_rebuild", s.incrementalRebuild},
	}

	for _, j := range jobs {
		job := j
		_, err := s.cron.AddFunc(job.spec, func() {
			start := time.Now()
			if err := job.run(ctx); err != nil {
				s.log.Error().Err(err).Str("job", job.name).Dur("elapsed", time.Since(start)).Msg("scheduler job failed")
				return
			}
			s.log.Info().Str("job", job.name).Dur("elapsed", time.Since(start)).Msg("scheduler job ran")
		})
		if err != nil {
			return perrors.Internal("scheduler:register:"+job.name, err)
		}
	}

	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return nil
}

// enqueueDreaming implements §4.8's hourly dreaming enqueuer: one task per
// user who has new messages or completed uploads since their last dreaming
// task, skipping anyone who already has one in flight.
func (s *Scheduler) enqueueDreaming(ctx context.Context) error {
	var userIDs []string
	err := s.db.SelectContext(ctx, &userIDs, `
		SELECT DISTINCT u.id FROM users u
		WHERE (
			EXISTS (
				SELECT 1 FROM messages m JOIN sessions se ON se.id = m.session_id
				WHERE se.user_id = u.id AND m.created_at > coalesce((
					SELECT max(t.completed_at) FROM task_queue t
					WHERE t.user_id = u.id AND t.task_type = $1
				), 'epoch')
			)
			OR EXISTS (
				SELECT 1 FROM files f
				WHERE f.user_id = u.id AND f.processing_status = 'completed' AND f.updated_at > coalesce((
					SELECT max(t.completed_at) FROM task_queue t
					WHERE t.user_id = u.id AND t.task_type = $1
				), 'epoch')
			)
		)
		AND NOT EXISTS (
			SELECT 1 FROM task_queue t
			WHERE t.user_id = u.id AND t.task_type = $1 AND t.status IN ($2, $3)
		)`,
		domain.TaskTypeDreaming, domain.TaskPending, domain.TaskProcessing)
	if err != nil {
		return perrors.TransientStore("enqueue_dreaming:select", err)
	}

	for _, userID := range userIDs {
		if _, err := s.queue.Enqueue(ctx, domain.Task{
			TaskType: domain.TaskTypeDreaming,
			Tier:     domain.TierMedium,
			UserID:   userID,
			Payload:  domain.JSONMap{"user_id": userID},
		}); err != nil {
			return err
		}
	}
	return nil
}

// enqueueNews implements §4.8's daily news enqueuer: one task per user with
// non-empty interests.
func (s *Scheduler) enqueueNews(ctx context.Context) error {
	var users []struct {
		ID        string             `db:"id"`
		Interests domain.StringList  `db:"interests"`
	}
	if err := s.db.SelectContext(ctx, &users, `SELECT id, interests FROM users WHERE deleted_at IS NULL`); err != nil {
		return perrors.TransientStore("enqueue_news:select", err)
	}

	for _, u := range users {
		if len(u.Interests) == 0 {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, domain.Task{
			TaskType: domain.TaskTypeNews,
			Tier:     domain.TierSmall,
			UserID:   u.ID,
			Payload:  domain.JSONMap{"user_id": u.ID, "interests": []string(u.Interests)},
		}); err != nil {
			return err
		}
	}
	return nil
}

// enqueueReadingSummary implements §4.8's daily reading_summary enqueuer:
// one task per reading moment with an empty summary and at least one item.
func (s *Scheduler) enqueueReadingSummary(ctx context.Context) error {
	var rows []struct {
		ID       string `db:"id"`
		UserID   string `db:"user_id"`
		TenantID string `db:"tenant_id"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, tenant_id FROM moments
		WHERE moment_type = $1 AND (summary IS NULL OR summary = '')
		  AND jsonb_array_length(coalesce(metadata->'items', '[]'::jsonb)) >= 1`,
		domain.MomentReading)
	if err != nil {
		return perrors.TransientStore("enqueue_reading_summary:select", err)
	}

	for _, r := range rows {
		if _, err := s.queue.Enqueue(ctx, domain.Task{
			TaskType: domain.TaskTypeReadingSummary,
			Tier:     domain.TierMicro,
			TenantID: r.TenantID,
			UserID:   r.UserID,
			Payload:  domain.JSONMap{"moment_id": r.ID},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) recoverStale(ctx context.Context) error {
	_, err := s.queue.RecoverStale(ctx)
	return err
}

func (s *Scheduler) incrementalRebuild(ctx context.Context) error {
	return s.rebuilder.IncrementalRebuild(ctx)
}
