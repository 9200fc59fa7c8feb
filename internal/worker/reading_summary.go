package worker

import (
	"context"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// handleReadingSummary implements §4.9's reading_summary handler: fill in
// the empty summary field of one reading moment via a small structured-
// output agent call.
func (r *Runtime) handleReadingSummary(ctx context.Context, task domain.Task) (domain.JSONMap, error) {
	momentID, _ := task.Payload["moment_id"].(string)
	if momentID == "" {
		return nil, perrors.InvalidInput("payload.moment_id", "required for reading_summary tasks")
	}

	moment, err := r.moments.Get(ctx, task.TenantID, momentID)
	if err != nil {
		return nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, perrors.Wrap(perrors.CodeInternal, "rate limiter wait", err)
	}

	var out domain.ReadingSummaryOutput
	if err := r.agent.RunStructured(ctx, "reading_summarizer", map[string]any{
		"items": moment.Metadata["items"],
	}, &out); err != nil {
		return nil, err
	}

	mode, err := r.resolveMode(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}
	encrypted, err := r.envelope.EncryptField(ctx, mode, task.TenantID, moment.ID, out.Summary, false)
	if err != nil {
		return nil, err
	}
	moment.Summary = encrypted
	moment.EncryptionLevel = encryptionLevelFor(mode)
	if _, err := r.moments.Update(ctx, moment); err != nil {
		return nil, err
	}

	return domain.JSONMap{"moment_id": moment.ID}, nil
}
