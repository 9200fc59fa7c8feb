package queue

import (
	"context"
	"math"
	"time"

	perrors "github.com/percolation-labs/p8k8/pkg/errors"

	"github.com/percolation-labs/p8k8/internal/domain"
)

// planLimits is the per-plan cap table §4.8 gates dispatch against. Caps are
// expressed per calendar-month period, matching usage_tracking's
// period_start granularity.
var planLimits = map[domain.Plan]map[string]int64{
	domain.PlanFree: {
		"tokens":   200_000,
		"minutes":  60,
		"requests": 500,
	},
	domain.PlanPro: {
		"tokens":   2_000_000,
		"minutes":  600,
		"requests": 5_000,
	},
	domain.PlanTeam: {
		"tokens":   10_000_000,
		"minutes":  3_000,
		"requests": 25_000,
	},
	domain.PlanEnterprise: {
		"tokens":   math.MaxInt64,
		"minutes":  math.MaxInt64,
		"requests": math.MaxInt64,
	},
}

// CurrentPeriod truncates t to the first of its month, the billing window
// usage_tracking rows key on.
func CurrentPeriod(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.UTC().Location())
}

// CheckQuota reports whether userID may consume amount more of resource
// under plan before the worker dispatches a task that would use it.
// Over-quota tasks are skipped, never failed (§4.8).
func (s *Service) CheckQuota(ctx context.Context, userID string, plan domain.Plan, resource string, amount int64) (bool, error) {
	limit, ok := planLimits[plan][resource]
	if !ok {
		return true, nil
	}

	var used int64
	period := CurrentPeriod(time.Now())
	err := s.db.GetContext(ctx, &used, `
		SELECT coalesce(used, 0) + coalesce(granted_extra, 0) FROM usage_tracking
		WHERE user_id = $1 AND resource_type = $2 AND period_start = $3`,
		userID, resource, period)
	if err != nil {
		used = 0 // no row yet: nothing consumed this period
	}
	return used+amount <= limit, nil
}

// IncrementUsage implements §4.8's usage_increment(user, resource, amount,
// limit): atomically upserts the counter and reports whether the post-
// increment total exceeds the effective limit.
func (s *Service) IncrementUsage(ctx context.Context, userID string, plan domain.Plan, resource string, amount int64) (usedNow int64, effectiveLimit int64, exceeded bool, err error) {
	limit := planLimits[plan][resource]
	period := CurrentPeriod(time.Now())

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_tracking (user_id, resource_type, period_start, used, granted_extra)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (user_id, resource_type, period_start) DO UPDATE SET
			used = usage_tracking.used + EXCLUDED.used
		RETURNING used, granted_extra`,
		userID, resource, period, amount)

	var used, grantedExtra int64
	if scanErr := row.Scan(&used, &grantedExtra); scanErr != nil {
		return 0, limit, false, perrors.TransientStore("usage_increment", scanErr)
	}
	effective := limit + grantedExtra
	return used, effective, used > effective, nil
}
