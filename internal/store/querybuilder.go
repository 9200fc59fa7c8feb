package store

import (
	"fmt"
	"strings"
)

// QueryBuilder renders a FilterSet/Sort/Pagination into a WHERE/ORDER BY/
// LIMIT/OFFSET clause plus its positional arguments. postgres.GenericStore's
// List is its caller.
type QueryBuilder struct {
	table string
	opts  QueryOptions
}

// NewQueryBuilder starts a builder scoped to table.
func NewQueryBuilder(table string, opts QueryOptions) *QueryBuilder {
	return &QueryBuilder{table: table, opts: opts}
}

// BuildWhere renders the WHERE clause (without the leading "WHERE") and its
// positional args, starting placeholders at argOffset+1.
func (b *QueryBuilder) BuildWhere(argOffset int) (string, []any) {
	if len(b.opts.Filters) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(b.opts.Filters))
	args := make([]any, 0, len(b.opts.Filters))
	n := argOffset
	for _, f := range b.opts.Filters {
		switch f.Operator {
		case "IS NULL", "IS NOT NULL":
			clauses = append(clauses, fmt.Sprintf("%s %s", f.Field, f.Operator))
		case "IN":
			n++
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", f.Field, n))
			args = append(args, f.Value)
		default:
			n++
			clauses = append(clauses, fmt.Sprintf("%s %s $%d", f.Field, f.Operator, n))
			args = append(args, f.Value)
		}
	}
	return strings.Join(clauses, " AND "), args
}

// BuildOrderBy renders the ORDER BY clause (without the leading keywords),
// defaulting to created_at DESC when no sort was specified.
func (b *QueryBuilder) BuildOrderBy() string {
	if len(b.opts.Sorts) == 0 {
		return "created_at DESC"
	}
	terms := make([]string, 0, len(b.opts.Sorts))
	for _, s := range b.opts.Sorts {
		terms = append(terms, fmt.Sprintf("%s %s", s.Field, s.Order))
	}
	return strings.Join(terms, ", ")
}

// BuildLimitOffset renders "LIMIT n OFFSET m" using normalized pagination.
func (b *QueryBuilder) BuildLimitOffset(maxLimit int) (string, []any, int) {
	p := b.opts.Pagination.Normalize(maxLimit)
	return "LIMIT ? OFFSET ?", []any{p.Limit, p.Offset}, p.Limit
}
