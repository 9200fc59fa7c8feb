package kv

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/gval"

	"github.com/percolation-labs/p8k8/internal/domain"
)

// Row is one materialized (tenant, normalised_key) -> entity mapping.
type Row struct {
	TenantID       string         `db:"tenant_id"`
	EntityKey      string         `db:"entity_key"`
	EntityType     string         `db:"entity_type"`
	EntityID       string         `db:"entity_id"`
	ContentSummary string         `db:"content_summary"`
	Metadata       domain.JSONMap `db:"metadata"`
	GraphEdges     domain.EdgeList `db:"graph_edges"`
}

// EvalSummary evaluates a TableControl's KVSummaryExpr against an entity
// row rendered as a map[string]any, via gval's arithmetic+string+text
// expression language. If the table is encrypted, per §4.4 the expression
// must degrade to just the row's name so no ciphertext ever lands in the
// index — enforced here rather than trusted to each expression's author.
func EvalSummary(ctx context.Context, tc *domain.TableControl, row map[string]any) (string, error) {
	if tc == nil || tc.KVSummaryExpr == "" {
		return fallbackName(row), nil
	}
	if tc.IsEncrypted {
		return fallbackName(row), nil
	}

	eval, err := gval.Full().NewEvaluable(tc.KVSummaryExpr)
	if err != nil {
		return "", fmt.Errorf("kv: parse kv_summary_expr for %s: %w", tc.TableName, err)
	}
	result, err := eval(ctx, row)
	if err != nil {
		return "", fmt.Errorf("kv: eval kv_summary_expr for %s: %w", tc.TableName, err)
	}
	s, ok := result.(string)
	if !ok {
		return fmt.Sprintf("%v", result), nil
	}
	return s, nil
}

func fallbackName(row map[string]any) string {
	if name, ok := row["name"].(string); ok {
		return name
	}
	if id, ok := row["id"].(string); ok {
		return id
	}
	return ""
}
