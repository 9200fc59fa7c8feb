package chatmemory

import (
	"context"
	"time"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// DailySummaries synthesizes §4.6's virtual daily_summary feed rows: one
// per date with activity (messages, moments, or categorised resources) in
// [from, to]. Rows are never persisted; their id is derivable from
// (user_id, date) so a client can idempotently reopen "today".
func (s *Service) DailySummaries(ctx context.Context, tenantID, userID string, from, to time.Time) ([]domain.DailySummary, error) {
	dates, err := s.activeDates(ctx, tenantID, userID, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]domain.DailySummary, 0, len(dates))
	for _, date := range dates {
		summary, err := s.buildDailySummary(ctx, tenantID, userID, date)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *Service) activeDates(ctx context.Context, tenantID, userID string, from, to time.Time) ([]time.Time, error) {
	var dates []time.Time
	query := `
		SELECT DISTINCT date_trunc('day', activity_at) AS day FROM (
			SELECT m.created_at AS activity_at FROM messages m
			JOIN sessions s ON s.id = m.session_id
			WHERE s.user_id = $1 AND s.tenant_id = $2 AND m.created_at BETWEEN $3 AND $4
			UNION ALL
			SELECT mo.created_at FROM moments mo
			WHERE mo.user_id = $1 AND mo.tenant_id = $2 AND mo.created_at BETWEEN $3 AND $4
			UNION ALL
			SELECT r.created_at FROM resources r
			WHERE r.user_id = $1 AND r.tenant_id = $2 AND r.category IS NOT NULL AND r.created_at BETWEEN $3 AND $4
		) activity
		ORDER BY day`
	if err := s.db.SelectContext(ctx, &dates, query, userID, tenantID, from, to); err != nil {
		return nil, perrors.TransientStore("daily_summaries:active_dates", err)
	}
	return dates, nil
}

func (s *Service) buildDailySummary(ctx context.Context, tenantID, userID string, date time.Time) (domain.DailySummary, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	summary := domain.DailySummary{UserID: userID, Date: dayStart}

	var messageCount int
	var totalTokens int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT count(*), coalesce(sum(m.input_tokens + m.output_tokens), 0)
		FROM messages m JOIN sessions s ON s.id = m.session_id
		WHERE s.user_id = $1 AND s.tenant_id = $2 AND m.created_at >= $3 AND m.created_at < $4`,
		userID, tenantID, dayStart, dayEnd).Scan(&messageCount, &totalTokens); err != nil {
		return summary, perrors.TransientStore("daily_summary:messages", err)
	}
	summary.MessageCount = messageCount
	summary.TotalTokens = totalTokens

	var sessionIDs []string
	if err := s.db.SelectContext(ctx, &sessionIDs, `
		SELECT DISTINCT s.id FROM sessions s
		JOIN messages m ON m.session_id = s.id
		WHERE s.user_id = $1 AND s.tenant_id = $2 AND m.created_at >= $3 AND m.created_at < $4`,
		userID, tenantID, dayStart, dayEnd); err != nil {
		return summary, perrors.TransientStore("daily_summary:sessions", err)
	}
	summary.SessionIDs = sessionIDs
	summary.SessionCount = len(sessionIDs)

	var momentCount, reminderCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE moment_type != $3),
			count(*) FILTER (WHERE moment_type = $3)
		FROM moments
		WHERE user_id = $1 AND tenant_id = $2 AND created_at >= $4 AND created_at < $5`,
		userID, tenantID, domain.MomentReminder, dayStart, dayEnd).Scan(&momentCount, &reminderCount); err != nil {
		return summary, perrors.TransientStore("daily_summary:moments", err)
	}
	summary.MomentCount = momentCount
	summary.ReminderCount = reminderCount

	resourceCounts := map[string]int{}
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, count(*) FROM resources
		WHERE user_id = $1 AND tenant_id = $2 AND category IS NOT NULL
		  AND created_at >= $3 AND created_at < $4
		GROUP BY category`,
		userID, tenantID, dayStart, dayEnd)
	if err != nil {
		return summary, perrors.TransientStore("daily_summary:resources", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return summary, perrors.Internal("daily_summary:resources:scan", err)
		}
		resourceCounts[category] = n
	}
	summary.ResourceCounts = resourceCounts

	return summary, nil
}

// FilterFutureMoments implements §4.6's future-moment policy: moments with
// starts_timestamp > now are reminders and are excluded from feed reads
// unless includeFuture is set.
func FilterFutureMoments(moments []domain.Moment, includeFuture bool, now time.Time) []domain.Moment {
	if includeFuture {
		return moments
	}
	out := make([]domain.Moment, 0, len(moments))
	for _, m := range moments {
		if m.StartsTimestamp.After(now) {
			continue
		}
		out = append(out, m)
	}
	return out
}
