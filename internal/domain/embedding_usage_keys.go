package domain

import "time"

// EmbeddingQueueStatus enumerates the lifecycle of an embedding_queue row.
type EmbeddingQueueStatus string

const (
	EmbeddingQueuePending EmbeddingQueueStatus = "pending"
	EmbeddingQueueFailed  EmbeddingQueueStatus = "failed"
)

// EmbeddingQueueEntry is a row of the ephemeral embedding_queue table
// (§3, §4.7), written by per-table triggers.
type EmbeddingQueueEntry struct {
	ID         string               `json:"id" db:"id"`
	Table      string               `json:"table_name" db:"table_name"`
	EntityID   string               `json:"entity_id" db:"entity_id"`
	Field      string               `json:"field" db:"field"`
	Status     EmbeddingQueueStatus `json:"status" db:"status"`
	Attempts   int                  `json:"attempts" db:"attempts"`
	Error      string               `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at" db:"updated_at"`
}

// EmbeddingRow is a row of a per-table embeddings_<table> relation.
type EmbeddingRow struct {
	EntityID    string    `json:"entity_id" db:"entity_id"`
	Field       string    `json:"field" db:"field"`
	Vector      []float32 `json:"vector" db:"vector"`
	Provider    string    `json:"provider" db:"provider"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TenantKey records a tenant's wrapped DEK and KMS bookkeeping (§3
// "Tenant keys").
type TenantKey struct {
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	WrappedDEK   []byte    `json:"wrapped_dek" db:"wrapped_dek"`
	KMSKeyID     string    `json:"kms_key_id" db:"kms_key_id"`
	Algorithm    string    `json:"algorithm" db:"algorithm"`
	Mode         string    `json:"mode" db:"mode"`
	RotatedAt    time.Time `json:"rotated_at" db:"rotated_at"`
	PublicKeyPEM string    `json:"public_key_pem,omitempty" db:"public_key_pem"` // sealed mode
}

// RedactionMapping is a row of the reversible PII token map (§3 "Redaction
// map", SPEC_FULL.md C.1): token -> ciphertext(original), scoped by
// (tenant, entity, session).
type RedactionMapping struct {
	Token      string    `json:"token" db:"token"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	SessionID  string    `json:"session_id,omitempty" db:"session_id"`
	Ciphertext string    `json:"ciphertext" db:"ciphertext"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// UsagePeriod identifies the billing window a usage_tracking row covers.
type UsagePeriod struct {
	UserID       string    `json:"user_id" db:"user_id"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	PeriodStart  time.Time `json:"period_start" db:"period_start"`
	Used         int64     `json:"used" db:"used"`
	GrantedExtra int64     `json:"granted_extra" db:"granted_extra"`
}

// Plan enumerates the billing tiers gating the queue's quota check (§4.8).
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanTeam       Plan = "team"
	PlanEnterprise Plan = "enterprise"
)
