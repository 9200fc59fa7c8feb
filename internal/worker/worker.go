// Package worker implements the background process runtime (§4.9): a
// claim/dispatch/complete-or-fail loop over task_queue, with one typed
// handler per task_type.
package worker

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/percolation-labs/p8k8/internal/chatmemory"
	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/queue"
	storepg "github.com/percolation-labs/p8k8/internal/store/postgres"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// BlobStore is the external-collaborator seam for fetching an uploaded
// file's raw bytes by its storage uri.
type BlobStore interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

// TextExtractor is the external-collaborator seam for turning a file's raw
// bytes into plain text, keyed by mime type.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
}

// StructuredAgent is the subset of internal/agent's adapter the worker
// depends on: run a named agent configured for structured_output and
// decode its response into v.
type StructuredAgent interface {
	RunStructured(ctx context.Context, agentName string, contextPayload map[string]any, v any) error
}

// Runtime holds every collaborator a task handler may need.
type Runtime struct {
	db        *sqlx.DB
	queue     *queue.Service
	chat      *chatmemory.Service
	envelope  *crypto.Service
	blob      BlobStore
	extractor TextExtractor
	agent     StructuredAgent
	limiter   *rate.Limiter
	log       zerolog.Logger

	files     *storepg.GenericStore[domain.File]
	resources *storepg.GenericStore[domain.Resource]
	moments   *storepg.GenericStore[domain.Moment]
}

// NewRuntime builds a worker Runtime. providerRPS bounds outbound
// LLM/embedding provider calls the dreaming/news/reading_summary handlers
// make via agent, shared across every handler invocation in this process.
func NewRuntime(
	db *sqlx.DB,
	q *queue.Service,
	chat *chatmemory.Service,
	envelope *crypto.Service,
	blob BlobStore,
	extractor TextExtractor,
	agent StructuredAgent,
	providerRPS rate.Limit,
	log zerolog.Logger,
) *Runtime {
	return &Runtime{
		db:        db,
		queue:     q,
		chat:      chat,
		envelope:  envelope,
		blob:      blob,
		extractor: extractor,
		agent:     agent,
		limiter:   rate.NewLimiter(providerRPS, 1),
		log:       log,
		files:     storepg.NewGenericStore[domain.File](db, "files"),
		resources: storepg.NewGenericStore[domain.Resource](db, "resources"),
		moments:   storepg.NewGenericStore[domain.Moment](db, "moments"),
	}
}

type handlerFunc func(ctx context.Context, task domain.Task) (domain.JSONMap, error)

func (r *Runtime) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		domain.TaskTypeFileProcessing: r.handleFileProcessing,
		domain.TaskTypeDreaming:       r.handleDreaming,
		domain.TaskTypeNews:           r.handleNews,
		domain.TaskTypeReadingSummary: r.handleReadingSummary,
	}
}

// Run loops claim -> dispatch -> complete/fail for one tier until ctx is
// cancelled. wake, if non-nil, is a pgnotify-fed channel that short-circuits
// the poll sleep the instant a task lands; it is optional so tests and
// simple deployments can pass nil and rely on pollInterval alone.
func (r *Runtime) Run(ctx context.Context, tier domain.Tier, workerID string, batch int, pollInterval time.Duration, wake <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tasks, err := r.queue.Claim(ctx, tier, workerID, batch)
		if err != nil {
			r.log.Error().Err(err).Str("tier", string(tier)).Msg("claim failed")
			r.wait(ctx, pollInterval, wake)
			continue
		}
		if len(tasks) == 0 {
			r.wait(ctx, pollInterval, wake)
			continue
		}

		for _, task := range tasks {
			r.dispatch(ctx, task)
		}
	}
}

func (r *Runtime) wait(ctx context.Context, pollInterval time.Duration, wake <-chan struct{}) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}

func (r *Runtime) dispatch(ctx context.Context, task domain.Task) {
	start := time.Now()
	handler, ok := r.handlers()[task.TaskType]
	if !ok {
		_ = r.queue.Fail(ctx, task.ID, perrors.New(perrors.CodeInvalidInput, "no handler for task_type "+task.TaskType))
		return
	}

	allowed, err := r.checkQuota(ctx, task)
	if err != nil {
		r.log.Error().Err(err).Str("task_id", task.ID).Msg("quota check failed")
	} else if !allowed {
		r.log.Info().Str("task_id", task.ID).Str("task_type", task.TaskType).Msg("task skipped: over quota")
		return
	}

	result, err := handler(ctx, task)
	if err != nil {
		r.log.Error().Err(err).Str("task_id", task.ID).Str("task_type", task.TaskType).Msg("task handler failed")
		if ferr := r.queue.Fail(ctx, task.ID, err); ferr != nil {
			r.log.Error().Err(ferr).Str("task_id", task.ID).Msg("fail-with-backoff write failed")
		}
		return
	}

	if err := r.queue.Complete(ctx, task.ID, result); err != nil {
		r.log.Error().Err(err).Str("task_id", task.ID).Msg("complete write failed")
		return
	}
	r.recordUsage(ctx, task, time.Since(start))
}

// checkQuota implements §4.8's dispatch-time gate: a user's plan caps the
// resource this task_type primarily consumes.
func (r *Runtime) checkQuota(ctx context.Context, task domain.Task) (bool, error) {
	if task.UserID == "" {
		return true, nil
	}
	resource, amount := quotaResource(task)
	if resource == "" {
		return true, nil
	}
	plan, err := r.userPlan(ctx, task.UserID)
	if err != nil {
		return true, nil // plan lookup failure should not block dispatch entirely
	}
	return r.queue.CheckQuota(ctx, task.UserID, plan, resource, amount)
}

// recordUsage implements the after-completion half of quota gating:
// usage_increment(user, resource, amount, limit).
func (r *Runtime) recordUsage(ctx context.Context, task domain.Task, elapsed time.Duration) {
	if task.UserID == "" {
		return
	}
	resource, amount := quotaResource(task)
	if resource == "" {
		return
	}
	plan, err := r.userPlan(ctx, task.UserID)
	if err != nil {
		return
	}
	if _, _, _, err := r.queue.IncrementUsage(ctx, task.UserID, plan, resource, amount); err != nil {
		r.log.Error().Err(err).Str("task_id", task.ID).Msg("usage increment failed")
	}
}

func (r *Runtime) userPlan(ctx context.Context, userID string) (domain.Plan, error) {
	var plan string
	if err := r.db.GetContext(ctx, &plan, `SELECT plan FROM users WHERE id = $1`, userID); err != nil {
		return domain.PlanFree, perrors.TransientStore("user_plan", err)
	}
	if plan == "" {
		return domain.PlanFree, nil
	}
	return domain.Plan(plan), nil
}

// quotaResource maps a task_type to the usage_tracking resource it
// consumes and a fixed unit amount; handlers that meter exact token/minute
// counts may refine this further in their own result payload.
func quotaResource(task domain.Task) (string, int64) {
	switch task.TaskType {
	case domain.TaskTypeDreaming, domain.TaskTypeNews, domain.TaskTypeReadingSummary:
		return "minutes", 1
	default:
		return "", 0
	}
}

// resolveMode resolves tenantID's configured encryption mode, capped for
// background-job access the way the chat path is (§4.1): a sealed tenant's
// content is still writable/readable by platform jobs that lack the
// client's private key.
func (r *Runtime) resolveMode(ctx context.Context, tenantID string) (crypto.Mode, error) {
	var raw string
	if err := r.db.GetContext(ctx, &raw, `SELECT encryption_mode FROM tenants WHERE id = $1`, tenantID); err != nil {
		return crypto.ModeDisabled, perrors.TransientStore("resolve_mode", err)
	}
	return crypto.ResolveMode(crypto.Mode(raw), true), nil
}
