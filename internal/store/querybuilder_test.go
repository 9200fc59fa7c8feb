package store

import "testing"

func TestBuildWhereWithNoFiltersReturnsEmpty(t *testing.T) {
	b := NewQueryBuilder("sessions", NewQueryOptions())
	clause, args := b.BuildWhere(0)
	if clause != "" || args != nil {
		t.Errorf("got clause=%q args=%v, want empty", clause, args)
	}
}

func TestBuildWhereRendersEqualityAndInAndNullOperators(t *testing.T) {
	opts := NewQueryOptions()
	opts.Filters.Eq("tenant_id", "t1").In("status", []string{"open", "closed"}).IsNotNull("closed_at")

	b := NewQueryBuilder("tasks", opts)
	clause, args := b.BuildWhere(0)

	want := "tenant_id = $1 AND status = ANY($2) AND closed_at IS NOT NULL"
	if clause != want {
		t.Errorf("got clause %q, want %q", clause, want)
	}
	if len(args) != 2 || args[0] != "t1" {
		t.Errorf("got args %v", args)
	}
}

func TestBuildWhereStartsPlaceholdersAtOffsetPlusOne(t *testing.T) {
	opts := NewQueryOptions()
	opts.Filters.Eq("tenant_id", "t1")

	b := NewQueryBuilder("tasks", opts)
	clause, _ := b.BuildWhere(3)

	if clause != "tenant_id = $4" {
		t.Errorf("got clause %q, want tenant_id = $4", clause)
	}
}

func TestBuildOrderByDefaultsToCreatedAtDesc(t *testing.T) {
	b := NewQueryBuilder("tasks", NewQueryOptions())
	if got := b.BuildOrderBy(); got != "created_at DESC" {
		t.Errorf("got %q, want created_at DESC", got)
	}
}

func TestBuildOrderByRendersExplicitSorts(t *testing.T) {
	opts := NewQueryOptions()
	opts.Sorts = []Sort{{Field: "priority", Order: SortDesc}, {Field: "created_at", Order: SortAsc}}

	b := NewQueryBuilder("tasks", opts)
	want := "priority DESC, created_at ASC"
	if got := b.BuildOrderBy(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildLimitOffsetNormalizesPagination(t *testing.T) {
	opts := NewQueryOptions()
	opts.Pagination = Pagination{Limit: 500, Offset: -1}

	b := NewQueryBuilder("tasks", opts)
	clause, args, limit := b.BuildLimitOffset(100)

	if clause != "LIMIT ? OFFSET ?" {
		t.Errorf("got clause %q", clause)
	}
	if limit != 100 {
		t.Errorf("got limit %d, want 100 (clamped)", limit)
	}
	if len(args) != 2 || args[0] != 100 || args[1] != 0 {
		t.Errorf("got args %v", args)
	}
}
