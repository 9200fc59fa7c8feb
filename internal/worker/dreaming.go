package worker

import (
	"context"
	"fmt"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	storepg "github.com/percolation-labs/p8k8/internal/store/postgres"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// Phase 1 and phase 2 bounds, §4.9.
const (
	dreamingMaxSessionsPhase1  = 10
	dreamingUploadExcerptChars = 500

	dreamingMaxMoments            = 50
	dreamingMaxSessionsForContext = 5
	dreamingMaxMessagesPerSession = 20
	dreamingMaxRecentFiles        = 10
	dreamingMaxReferencedResources = 10

	// modelContextWindowTokens and dreamingContextFraction implement the
	// "token-budgeted to ~30% of the model context window" rule; the exact
	// window size is a property of the configured model, not this core, so
	// a conservative default stands in until the agent adapter can report
	// the real figure per model.
	modelContextWindowTokens = 128_000
	dreamingContextFraction  = 0.30
	dreamingCharsPerToken    = 4
)

// handleDreaming implements §4.9's two-phase dreaming handler.
func (r *Runtime) handleDreaming(ctx context.Context, task domain.Task) (domain.JSONMap, error) {
	tenantID, userID := task.TenantID, task.UserID
	if userID == "" {
		return nil, perrors.InvalidInput("user_id", "required for dreaming tasks")
	}

	mode, err := r.resolveMode(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	chunksBuilt, err := r.dreamingPhaseOne(ctx, tenantID, userID, mode)
	if err != nil {
		return nil, err
	}

	dreamsCreated, err := r.dreamingPhaseTwo(ctx, tenantID, userID, mode)
	if err != nil {
		return nil, err
	}

	return domain.JSONMap{
		"session_chunks_built": chunksBuilt,
		"dreams_created":       dreamsCreated,
	}, nil
}

// dreamingPhaseOne compacts up to 10 most-recently-updated non-dreaming
// sessions into session_chunk moments, then stamps each with upload-moment
// excerpts so phase 2 has a richer summary to work from without re-reading
// the raw resources.
func (r *Runtime) dreamingPhaseOne(ctx context.Context, tenantID, userID string, mode crypto.Mode) (int, error) {
	var sessions []domain.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE user_id = $1 AND tenant_id = $2 AND coalesce(agent_name, '') != 'dreamer'
		ORDER BY updated_at DESC LIMIT $3`,
		userID, tenantID, dreamingMaxSessionsPhase1)
	if err != nil {
		return 0, perrors.TransientStore("dreaming_phase1:sessions", err)
	}

	excerpts, err := r.uploadExcerpts(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}

	built := 0
	for _, s := range sessions {
		moment, err := r.chat.BuildMomentNow(ctx, tenantID, s.ID, mode)
		if err != nil {
			return built, err
		}
		if moment == nil {
			continue
		}
		built++
		if len(excerpts) == 0 {
			continue
		}
		if _, err := r.db.ExecContext(ctx, `
			UPDATE moments SET metadata = coalesce(metadata, '{}'::jsonb) || $1::jsonb WHERE id = $2`,
			jsonbExcerpts(excerpts), moment.ID); err != nil {
			return built, perrors.TransientStore("dreaming_phase1:excerpts", err)
		}
	}
	return built, nil
}

// uploadExcerpts gathers ≤500-char excerpts from the user's content_upload
// moments, decrypting each summary with the row's own stamped mode.
func (r *Runtime) uploadExcerpts(ctx context.Context, tenantID, userID string) ([]string, error) {
	var rows []struct {
		ID              string                 `db:"id"`
		Summary         string                 `db:"summary"`
		EncryptionLevel domain.EncryptionLevel `db:"encryption_level"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, summary, encryption_level FROM moments
		WHERE user_id = $1 AND tenant_id = $2 AND moment_type = $3
		ORDER BY created_at DESC LIMIT $4`,
		userID, tenantID, domain.MomentContentUpload, dreamingMaxReferencedResources)
	if err != nil {
		return nil, perrors.TransientStore("dreaming:upload_excerpts", err)
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Summary == "" {
			continue
		}
		plaintext, err := r.envelope.DecryptField(ctx, modeFromLevel(row.EncryptionLevel), tenantID, row.ID, row.Summary)
		if err != nil {
			return nil, err
		}
		if len(plaintext) > dreamingUploadExcerptChars {
			plaintext = plaintext[:dreamingUploadExcerptChars]
		}
		out = append(out, plaintext)
	}
	return out, nil
}

// dreamingPhaseTwo gathers bounded context, invokes the structured-output
// dreaming agent, and materializes each DreamMoment as a moments row plus
// dreamed_from back-edges on its referenced sources.
func (r *Runtime) dreamingPhaseTwo(ctx context.Context, tenantID, userID string, mode crypto.Mode) (int, error) {
	contextPayload, err := r.gatherDreamingContext(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return 0, perrors.Wrap(perrors.CodeInternal, "rate limiter wait", err)
	}

	var dreams []domain.DreamMoment
	if err := r.agent.RunStructured(ctx, "dreamer", contextPayload, &dreams); err != nil {
		return 0, err
	}

	created := 0
	for _, dream := range dreams {
		if err := r.materializeDream(ctx, tenantID, userID, mode, dream); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (r *Runtime) materializeDream(ctx context.Context, tenantID, userID string, mode crypto.Mode, dream domain.DreamMoment) error {
	id := domain.NewID()
	encryptedSummary, err := r.envelope.EncryptField(ctx, mode, tenantID, id, dream.Summary, false)
	if err != nil {
		return err
	}

	edges := make([]domain.Edge, 0, len(dream.AffinityFragments))
	for _, frag := range dream.AffinityFragments {
		edges = append(edges, domain.Edge{Target: frag.Target, Relation: frag.Relation, Weight: frag.Weight})
	}

	moment := domain.Moment{
		Envelope: domain.Envelope{
			ID:              id,
			TenantID:        tenantID,
			UserID:          userID,
			GraphEdges:      edges,
			EncryptionLevel: encryptionLevelFor(mode),
		},
		Name:       dream.Name,
		MomentType: domain.MomentDream,
		Summary:    encryptedSummary,
	}
	if _, err := r.moments.Create(ctx, moment); err != nil {
		return err
	}

	backEdge := domain.Edge{Target: dream.Name, Relation: "dreamed_from"}
	for _, ref := range dream.SourceRefs {
		if err := storepg.MergeGraphEdgesByTable(ctx, r.db, ref.Table, tenantID, ref.ID, []domain.Edge{backEdge}); err != nil {
			return err
		}
	}
	return nil
}

// gatherDreamingContext assembles ≤50 moments, ≤5 sessions × ≤20 messages,
// ≤10 recent files, and ≤10 referenced resources, then passes them through
// truncateToCharBudget with a budget of ~30% of the model context window.
func (r *Runtime) gatherDreamingContext(ctx context.Context, tenantID, userID string) (map[string]any, error) {
	budgetTokens := int(modelContextWindowTokens * dreamingContextFraction)
	budgetChars := budgetTokens * dreamingCharsPerToken

	var moments []domain.Moment
	if err := r.db.SelectContext(ctx, &moments, `
		SELECT * FROM moments WHERE user_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC LIMIT $3`, userID, tenantID, dreamingMaxMoments); err != nil {
		return nil, perrors.TransientStore("dreaming_context:moments", err)
	}

	var sessionIDs []string
	if err := r.db.SelectContext(ctx, &sessionIDs, `
		SELECT id FROM sessions WHERE user_id = $1 AND tenant_id = $2
		ORDER BY updated_at DESC LIMIT $3`, userID, tenantID, dreamingMaxSessionsForContext); err != nil {
		return nil, perrors.TransientStore("dreaming_context:sessions", err)
	}

	var messages []domain.Message
	for _, sid := range sessionIDs {
		var rows []domain.Message
		if err := r.db.SelectContext(ctx, &rows, `
			SELECT * FROM messages WHERE session_id = $1 AND message_type IN ($2, $3)
			ORDER BY created_at DESC LIMIT $4`,
			sid, domain.MessageUser, domain.MessageAssistant, dreamingMaxMessagesPerSession); err != nil {
			return nil, perrors.TransientStore("dreaming_context:messages", err)
		}
		messages = append(messages, rows...)
	}

	var files []domain.File
	if err := r.db.SelectContext(ctx, &files, `
		SELECT * FROM files WHERE user_id = $1 AND tenant_id = $2
		ORDER BY updated_at DESC LIMIT $3`, userID, tenantID, dreamingMaxRecentFiles); err != nil {
		return nil, perrors.TransientStore("dreaming_context:files", err)
	}

	var resources []domain.Resource
	if err := r.db.SelectContext(ctx, &resources, `
		SELECT r.* FROM resources r JOIN files f ON f.id = r.file_id
		WHERE r.user_id = $1 AND r.tenant_id = $2
		ORDER BY r.created_at DESC LIMIT $3`, userID, tenantID, dreamingMaxReferencedResources); err != nil {
		return nil, perrors.TransientStore("dreaming_context:resources", err)
	}

	payload := map[string]any{
		"moments":   moments,
		"messages":  messages,
		"files":     files,
		"resources": resources,
	}
	return truncateToCharBudget(payload, budgetChars), nil
}

// truncateToCharBudget measures the payload's combined formatted length.
// When that exceeds budgetChars, only the moments list is trimmed: the
// newest moments are kept while their summaries' combined length fits
// budgetChars (see shrinkMoments). Messages, files and resources are never
// trimmed, so the returned payload can still exceed budgetChars.
func truncateToCharBudget(payload map[string]any, budgetChars int) map[string]any {
	total := 0
	count := func(v any) int { return len(fmt.Sprintf("%v", v)) }
	for k, v := range payload {
		total += count(v)
		_ = k
	}
	if total <= budgetChars || budgetChars <= 0 {
		return payload
	}

	if moments, ok := payload["moments"].([]domain.Moment); ok {
		payload["moments"] = shrinkMoments(moments, budgetChars)
	}
	return payload
}

func shrinkMoments(moments []domain.Moment, budgetChars int) []domain.Moment {
	used := 0
	out := make([]domain.Moment, 0, len(moments))
	for _, m := range moments {
		used += len(m.Summary)
		if used > budgetChars {
			break
		}
		out = append(out, m)
	}
	return out
}

func modeFromLevel(level domain.EncryptionLevel) crypto.Mode {
	switch level {
	case domain.EncryptionPlatform:
		return crypto.ModePlatform
	case domain.EncryptionClient:
		return crypto.ModeClient
	case domain.EncryptionSealed:
		return crypto.ModeSealed
	default:
		return crypto.ModeDisabled
	}
}

func jsonbExcerpts(excerpts []string) string {
	return jsonMarshalMust(map[string]any{"upload_excerpts": excerpts})
}
