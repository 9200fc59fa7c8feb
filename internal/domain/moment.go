package domain

import "time"

// MomentType enumerates the kinds of temporal record a moment represents.
type MomentType string

const (
	MomentSessionChunk  MomentType = "session_chunk"
	MomentContentUpload MomentType = "content_upload"
	MomentDream         MomentType = "dream"
	MomentReading       MomentType = "reading"
	MomentReminder      MomentType = "reminder"
	MomentNotification  MomentType = "notification"
	MomentVoiceNote     MomentType = "voice_note"
	// MomentDailySummary is synthesized, never persisted (§4.6 "Virtual
	// daily summary"). Kept here so callers can type-switch uniformly.
	MomentDailySummary MomentType = "daily_summary"
)

// Moment is a temporal chunk: a compacted span of messages, an upload
// summary, a dream, a reminder, etc.
type Moment struct {
	Envelope
	Name               string     `json:"name" db:"name"`
	MomentType         MomentType `json:"moment_type" db:"moment_type"`
	Summary            string     `json:"summary,omitempty" db:"summary"` // encrypted
	StartsTimestamp    time.Time  `json:"starts_timestamp" db:"starts_timestamp"`
	PreviousMomentKeys StringList `json:"previous_moment_keys,omitempty" db:"previous_moment_keys"`
}

// DailySummary is the synthetic, non-persisted feed row described in §4.6.
type DailySummary struct {
	UserID          string         `json:"user_id"`
	Date            time.Time      `json:"date"`
	MessageCount    int            `json:"message_count"`
	TotalTokens     int64          `json:"total_tokens"`
	SessionCount    int            `json:"session_count"`
	MomentCount     int            `json:"moment_count"`
	ReminderCount   int            `json:"reminder_count"`
	ResourceCounts  map[string]int `json:"resource_counts,omitempty"`
	SessionIDs      []string       `json:"session_ids,omitempty"`
}

// ID returns the deterministic id a client can use to reopen the same daily
// summary idempotently (derived from user + date, see §4.6).
func (d DailySummary) ID(namespace IDNamespace) string {
	return DeterministicID(namespace, "daily_summary", d.UserID, d.Date.Format("2006-01-02"))
}
