package worker

import (
	"context"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// handleNews implements §4.9's news handler: a small structured-output
// agent call producing one or more digest entries, each persisted as a
// content_upload moment.
func (r *Runtime) handleNews(ctx context.Context, task domain.Task) (domain.JSONMap, error) {
	interests, _ := task.Payload["interests"].([]any)
	if len(interests) == 0 {
		return domain.JSONMap{"digests": 0}, nil
	}

	mode, err := r.resolveMode(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, perrors.Wrap(perrors.CodeInternal, "rate limiter wait", err)
	}

	var digests []domain.NewsDigest
	if err := r.agent.RunStructured(ctx, "news", map[string]any{"interests": interests}, &digests); err != nil {
		return nil, err
	}

	for _, digest := range digests {
		id := domain.NewID()
		encryptedSummary, err := r.envelope.EncryptField(ctx, mode, task.TenantID, id, digest.Content, false)
		if err != nil {
			return nil, err
		}
		moment := domain.Moment{
			Envelope: domain.Envelope{
				ID:              id,
				TenantID:        task.TenantID,
				UserID:          task.UserID,
				EncryptionLevel: encryptionLevelFor(mode),
			},
			Name:       digest.Title,
			MomentType: domain.MomentContentUpload,
			Summary:    encryptedSummary,
		}
		if _, err := r.moments.Create(ctx, moment); err != nil {
			return nil, err
		}
	}

	return domain.JSONMap{"digests": len(digests)}, nil
}
