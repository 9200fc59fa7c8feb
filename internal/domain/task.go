package domain

import "time"

// Tier is one of the four worker size classes a queued task is assigned to.
type Tier string

const (
	TierMicro  Tier = "micro"
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// TaskStatus enumerates the total-ordered, monotonic states of a task row
// (§5 "Ordering guarantees").
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Well-known task_type values dispatched by the worker runtime (§4.9).
const (
	TaskTypeFileProcessing  = "file_processing"
	TaskTypeDreaming        = "dreaming"
	TaskTypeNews            = "news"
	TaskTypeReadingSummary  = "reading_summary"
	TaskTypeEmbedding       = "embedding"
)

// Task is a row in the single task_queue table (§4.8).
type Task struct {
	ID          string         `json:"id" db:"id"`
	TaskType    string         `json:"task_type" db:"task_type"`
	Tier        Tier           `json:"tier" db:"tier"`
	TenantID    string         `json:"tenant_id,omitempty" db:"tenant_id"`
	UserID      string         `json:"user_id,omitempty" db:"user_id"`
	Payload     JSONMap `json:"payload,omitempty" db:"payload"`
	Status      TaskStatus     `json:"status" db:"status"`
	Priority    int            `json:"priority" db:"priority"`
	ScheduledAt time.Time      `json:"scheduled_at" db:"scheduled_at"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	ClaimedBy   string         `json:"claimed_by,omitempty" db:"claimed_by"`
	StartedAt   *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Error       string         `json:"error,omitempty" db:"error"`
	RetryCount  int            `json:"retry_count" db:"retry_count"`
	MaxRetries  int            `json:"max_retries" db:"max_retries"`
	Result      JSONMap `json:"result,omitempty" db:"result"`
}

// TierForFileSize implements the file-processing tier-assignment rule of
// §4.8: "<1 MiB → small, <50 MiB → medium, else large".
func TierForFileSize(sizeBytes int64) Tier {
	const mib = 1 << 20
	switch {
	case sizeBytes < 1*mib:
		return TierSmall
	case sizeBytes < 50*mib:
		return TierMedium
	default:
		return TierLarge
	}
}
