package chatmemory

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
)

func TestDailySummariesBuildsOnePerActiveDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT DISTINCT date_trunc\('day', activity_at\) AS day FROM`).
		WithArgs("u1", "t1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"day"}).AddRow(day))

	mock.ExpectQuery(`SELECT count\(\*\), coalesce\(sum\(m.input_tokens \+ m.output_tokens\), 0\)\s+FROM messages m JOIN sessions s ON s.id = m.session_id`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(3, int64(42)))

	mock.ExpectQuery(`SELECT DISTINCT s.id FROM sessions s\s+JOIN messages m ON m.session_id = s.id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))

	mock.ExpectQuery(`SELECT\s+count\(\*\) FILTER \(WHERE moment_type != \$3\),\s+count\(\*\) FILTER \(WHERE moment_type = \$3\)\s+FROM moments`).
		WillReturnRows(sqlmock.NewRows([]string{"moment_count", "reminder_count"}).AddRow(2, 1))

	mock.ExpectQuery(`SELECT category, count\(\*\) FROM resources`).
		WillReturnRows(sqlmock.NewRows([]string{"category", "count"}).AddRow("travel", 2))

	svc := newTestChatService(t, sqlxDB)
	out, err := svc.DailySummaries(context.Background(), "t1", "u1", from, to)
	if err != nil {
		t.Fatalf("DailySummaries: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d summaries, want 1", len(out))
	}
	s := out[0]
	if s.MessageCount != 3 || s.TotalTokens != 42 || s.SessionCount != 1 || s.MomentCount != 2 || s.ReminderCount != 1 {
		t.Errorf("got %+v", s)
	}
	if s.ResourceCounts["travel"] != 2 {
		t.Errorf("got resource counts %+v", s.ResourceCounts)
	}
}

func TestFilterFutureMomentsExcludesByDefault(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	moments := []domain.Moment{
		{Name: "past", StartsTimestamp: now.Add(-time.Hour)},
		{Name: "future", StartsTimestamp: now.Add(time.Hour)},
	}
	got := FilterFutureMoments(moments, false, now)
	if len(got) != 1 || got[0].Name != "past" {
		t.Errorf("got %+v", got)
	}
}

func TestFilterFutureMomentsIncludesWhenRequested(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	moments := []domain.Moment{
		{Name: "past", StartsTimestamp: now.Add(-time.Hour)},
		{Name: "future", StartsTimestamp: now.Add(time.Hour)},
	}
	got := FilterFutureMoments(moments, true, now)
	if len(got) != 2 {
		t.Errorf("got %+v, want both moments included", got)
	}
}
