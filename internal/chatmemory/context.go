package chatmemory

import (
	"context"
	"fmt"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// modeOf inverts encryptionLevel, recovering the mode a row was written
// under so DecryptField knows how to reverse EncryptField.
func modeOf(level domain.EncryptionLevel) crypto.Mode {
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

const breadcrumbHintChars = 200

// ContextRow is one message-shaped row ready to replay to the model: either
// a real message or a synthesized system/breadcrumb row.
type ContextRow struct {
	MessageType domain.MessageType
	Content     string
	AgentName   string
}

// LoadContext implements §4.6's "Context load": accumulate messages
// newest-first until tokenBudget is exceeded, then return oldest-first,
// always keeping the last lastN messages regardless of budget. tool_call/
// tool_response rows are skipped entirely (the assistant text already
// reflects their outcome); assistant rows outside the live window that are
// covered by a later moment are replaced with a breadcrumb.
func (s *Service) LoadContext(ctx context.Context, tenantID, sessionID string, tokenBudget int64, lastN int) ([]ContextRow, error) {
	var rows []domain.Message
	query := `
		SELECT * FROM messages
		WHERE session_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &rows, query, sessionID, tenantID); err != nil {
		return nil, perrors.TransientStore("load_context:messages", err)
	}

	replayable := make([]domain.Message, 0, len(rows))
	for _, m := range rows {
		if m.MessageType == domain.MessageToolCall || m.MessageType == domain.MessageToolResponse {
			continue
		}
		if m.Content != "" {
			plaintext, err := s.envelope.DecryptField(ctx, modeOf(m.EncryptionLevel), tenantID, m.ID, m.Content)
			if err != nil {
				return nil, err
			}
			m.Content = plaintext
		}
		replayable = append(replayable, m)
	}

	// replayable is newest-first. Walk it accumulating tokens until the
	// budget is exceeded; everything within the live window is kept
	// verbatim, everything outside it is either dropped (if not covered by
	// a moment) or replaced with a breadcrumb (if it is).
	var windowed []domain.Message
	var overflow []domain.Message
	var tokenSum int64
	for i, m := range replayable {
		inLastN := i < lastN
		if tokenSum < tokenBudget || inLastN {
			windowed = append(windowed, m)
			tokenSum += m.InputTokens + m.OutputTokens
			continue
		}
		overflow = append(overflow, m)
	}

	moment, err := s.latestCoveringMoment(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	// reverse both slices to oldest-first
	reverseMessages(windowed)
	reverseMessages(overflow)

	out := make([]ContextRow, 0, len(windowed)+len(overflow)+1)
	if moment != nil {
		out = append(out, ContextRow{MessageType: domain.MessageSystem, Content: moment.Summary})
	}
	for _, m := range overflow {
		if m.MessageType != domain.MessageAssistant || moment == nil || m.CreatedAt.After(moment.CreatedAt) {
			continue
		}
		out = append(out, ContextRow{
			MessageType: domain.MessageSystem,
			Content:     breadcrumb(m.Content, moment.Name),
		})
	}
	for _, m := range windowed {
		out = append(out, ContextRow{MessageType: m.MessageType, Content: m.Content, AgentName: m.AgentName})
	}
	return out, nil
}

func reverseMessages(m []domain.Message) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}

// latestCoveringMoment returns the most recent session_chunk moment for the
// session, used to prepend temporal grounding and to decide the breadcrumb
// cutoff for anything older than the live window.
func (s *Service) latestCoveringMoment(ctx context.Context, tenantID, sessionID string) (*domain.Moment, error) {
	var m domain.Moment
	err := s.db.GetContext(ctx, &m, `
		SELECT * FROM moments
		WHERE moment_type = $1 AND name LIKE $2
		ORDER BY created_at DESC LIMIT 1`,
		domain.MomentSessionChunk, "session-"+sessionKeyHash(sessionID)+"-%")
	if err != nil {
		return nil, nil
	}
	if m.Summary != "" {
		plaintext, err := s.envelope.DecryptField(ctx, modeOf(m.EncryptionLevel), tenantID, m.ID, m.Summary)
		if err != nil {
			return nil, err
		}
		m.Summary = plaintext
	}
	return &m, nil
}

// breadcrumb renders the replacement text for an assistant message that
// falls outside the live window and is covered by a moment, per §4.6.
func breadcrumb(hint, momentKey string) string {
	if len(hint) > breadcrumbHintChars {
		hint = hint[:breadcrumbHintChars]
	}
	return fmt.Sprintf("[Earlier: %s… → LOOKUP %s]", hint, momentKey)
}
