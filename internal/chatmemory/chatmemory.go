// Package chatmemory implements the chat-turn contract and moment
// compaction (§4.6): persisting a turn's messages, loading a
// token-budgeted context window for replay to the model, and building the
// session_chunk moments that let old turns be dropped from that window
// without losing retrievability.
package chatmemory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// charsPerToken is the cheap approximation used to keep sessions.total_tokens
// current between turns; the LLM-reported input/output token counts stamped
// on the assistant row remain authoritative for billing (§4.6).
const charsPerToken = 4

// Service implements turn persistence, context loading, and moment
// compaction against the Postgres store.
type Service struct {
	db        *sqlx.DB
	envelope  *crypto.Service
	namespace domain.IDNamespace
}

func NewService(db *sqlx.DB, envelope *crypto.Service) *Service {
	return &Service{db: db, envelope: envelope, namespace: domain.DefaultNamespace}
}

// ToolExchange is one correlated tool_call/tool_response pair within a turn.
type ToolExchange struct {
	Call     domain.ToolCall
	Response domain.ToolCall
}

// TurnInput is the full shape of one chat turn as described by §4.6's
// "Given (session, user_content, assistant_content, tool_calls?, usage,
// ids?)".
type TurnInput struct {
	SessionID        string
	UserContent      string
	AssistantContent string
	ToolExchanges    []ToolExchange
	Model            string
	AgentName        string
	InputTokens      int64
	OutputTokens     int64
	LatencyMS        int64
	MomentThreshold  int64 // 0 disables automatic moment building
	// Mode is the tenant's resolved encryption mode for this write, already
	// capped for the chat path by crypto.ResolveMode.
	Mode crypto.Mode
}

// TurnResult reports the ids the caller needs for AAD binding and any
// follow-up.
type TurnResult struct {
	UserMessageID      string
	AssistantMessageID string
	ToolMessageIDs     []string
	MomentBuilt        *domain.Moment
}

// PersistTurn inserts the turn's rows in one transaction, pre-allocating
// message ids up front so encryption's AAD (tenant_id:entity_id) can be
// computed before the row exists.
func (s *Service) PersistTurn(ctx context.Context, tenantID string, in TurnInput) (*TurnResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, perrors.TransientStore("persist_turn:begin", err)
	}
	defer tx.Rollback()

	now := time.Now()
	result := &TurnResult{}

	userID := domain.NewID()
	result.UserMessageID = userID
	userContent, err := s.envelope.EncryptField(ctx, in.Mode, tenantID, userID, in.UserContent, false)
	if err != nil {
		return nil, err
	}
	if err := s.insertMessage(ctx, tx, tenantID, domain.Message{
		Envelope:        domain.Envelope{ID: userID, TenantID: tenantID, CreatedAt: now, UpdatedAt: now, EncryptionLevel: encryptionLevel(in.Mode)},
		SessionID:       in.SessionID,
		MessageType:     domain.MessageUser,
		Content:         userContent,
	}); err != nil {
		return nil, err
	}

	for _, ex := range in.ToolExchanges {
		callID := domain.NewID()
		respID := domain.NewID()
		result.ToolMessageIDs = append(result.ToolMessageIDs, callID, respID)

		if err := s.insertMessage(ctx, tx, tenantID, domain.Message{
			Envelope:    domain.Envelope{ID: callID, TenantID: tenantID, CreatedAt: now, UpdatedAt: now},
			SessionID:   in.SessionID,
			MessageType: domain.MessageToolCall,
			ToolCalls:   domain.ToolCallList{ex.Call},
		}); err != nil {
			return nil, err
		}
		if err := s.insertMessage(ctx, tx, tenantID, domain.Message{
			Envelope:    domain.Envelope{ID: respID, TenantID: tenantID, CreatedAt: now, UpdatedAt: now},
			SessionID:   in.SessionID,
			MessageType: domain.MessageToolResponse,
			ToolCalls:   domain.ToolCallList{ex.Response},
		}); err != nil {
			return nil, err
		}
	}

	assistantID := domain.NewID()
	result.AssistantMessageID = assistantID
	assistantContent, err := s.envelope.EncryptField(ctx, in.Mode, tenantID, assistantID, in.AssistantContent, false)
	if err != nil {
		return nil, err
	}
	if err := s.insertMessage(ctx, tx, tenantID, domain.Message{
		Envelope:     domain.Envelope{ID: assistantID, TenantID: tenantID, CreatedAt: now, UpdatedAt: now, EncryptionLevel: encryptionLevel(in.Mode)},
		SessionID:    in.SessionID,
		MessageType:  domain.MessageAssistant,
		Content:      assistantContent,
		AgentName:    in.AgentName,
		Model:        in.Model,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		LatencyMS:    in.LatencyMS,
	}); err != nil {
		return nil, err
	}

	approxTokens := int64((len(in.UserContent) + len(in.AssistantContent)) / charsPerToken)
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET total_tokens = total_tokens + $1, updated_at = now() WHERE id = $2 AND tenant_id = $3`,
		approxTokens, in.SessionID, tenantID); err != nil {
		return nil, perrors.TransientStore("persist_turn:session_tokens", err)
	}

	if in.MomentThreshold > 0 {
		uncovered, err := s.tokensUncoveredByMoments(ctx, tx, in.SessionID)
		if err != nil {
			return nil, err
		}
		if uncovered >= in.MomentThreshold {
			moment, err := s.buildSessionChunkMoment(ctx, tx, tenantID, in.SessionID, in.Mode)
			if err != nil {
				return nil, err
			}
			result.MomentBuilt = moment
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, perrors.TransientStore("persist_turn:commit", err)
	}
	return result, nil
}

func (s *Service) insertMessage(ctx context.Context, tx *sqlx.Tx, tenantID string, m domain.Message) error {
	m.TenantID = tenantID
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, user_id, session_id, message_type, content, tool_calls,
			agent_name, model, input_tokens, output_tokens, latency_ms, created_at, updated_at, encryption_level)
		VALUES (:id, :tenant_id, :user_id, :session_id, :message_type, :content, :tool_calls,
			:agent_name, :model, :input_tokens, :output_tokens, :latency_ms, :created_at, :updated_at, :encryption_level)`,
		m)
	if err != nil {
		return perrors.TransientStore("insert_message", err)
	}
	return nil
}

func (s *Service) tokensUncoveredByMoments(ctx context.Context, tx *sqlx.Tx, sessionID string) (int64, error) {
	var lastMomentAt *time.Time
	_ = tx.GetContext(ctx, &lastMomentAt, `
		SELECT max(created_at) FROM moments
		WHERE moment_type = $1 AND name LIKE $2`,
		domain.MomentSessionChunk, "session-"+sessionKeyHash(sessionID)+"-%")

	var total int64
	query := `SELECT coalesce(sum(input_tokens + output_tokens), 0) FROM messages WHERE session_id = $1`
	args := []any{sessionID}
	if lastMomentAt != nil {
		query += " AND created_at > $2"
		args = append(args, *lastMomentAt)
	}
	if err := tx.GetContext(ctx, &total, query, args...); err != nil {
		return 0, perrors.TransientStore("tokens_uncovered", err)
	}
	return total, nil
}

// sessionKeyHash returns the first 6 hex chars of sha256(sessionID), the
// prefix §4.6's deterministic moment name uses to stay short but collision
// resistant across sessions.
func sessionKeyHash(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])[:6]
}

func momentName(sessionID string, day time.Time, index int) string {
	return fmt.Sprintf("session-%s-%s-chunk-%d", sessionKeyHash(sessionID), day.Format("20060102"), index)
}

// encryptionLevel stamps the row's immutable encryption_level from the mode
// the write actually used.
func encryptionLevel(mode crypto.Mode) domain.EncryptionLevel {
	switch mode {
	case crypto.ModePlatform:
		return domain.EncryptionPlatform
	case crypto.ModeClient:
		return domain.EncryptionClient
	case crypto.ModeSealed:
		return domain.EncryptionSealed
	default:
		return domain.EncryptionDisabled
	}
}
