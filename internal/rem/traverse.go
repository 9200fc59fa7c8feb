package rem

import (
	"context"
	"sort"

	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/kv"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// traverse does a cycle-free breadth-first walk over graph_edges starting
// at the kv_store row for q.Text, bounded by q.Depth. Ordering is stable:
// depth ascending, then ascending normalised target key within a depth
// level (edge weight never affects order — it's carried through as data
// only). With LOAD set, each hit is joined to its source table row.
func (e *Engine) traverse(ctx context.Context, q *Query) ([]Hit, error) {
	startKey := kv.NormaliseKey(q.Text)
	depth := q.Depth
	if depth <= 0 {
		depth = 2
	}

	start, err := e.kvRowByKey(ctx, startKey, q.TenantID)
	if err != nil {
		return nil, perrors.NotFound("kv_store", q.Text)
	}

	visited := map[string]bool{start.EntityKey: true}
	frontier := []kv.Row{start}

	var hits []Hit
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		type discovered struct {
			row      kv.Row
			relation string
		}
		var next []discovered

		for _, row := range frontier {
			edges := make([]domain.Edge, len(row.GraphEdges))
			copy(edges, row.GraphEdges)
			sort.Slice(edges, func(i, j int) bool {
				return kv.NormaliseKey(edges[i].Target) < kv.NormaliseKey(edges[j].Target)
			})

			for _, edge := range edges {
				if q.RelationType != "" && edge.Relation != q.RelationType {
					continue
				}
				targetKey := kv.NormaliseKey(edge.Target)
				if visited[targetKey] {
					continue
				}
				targetRow, err := e.kvRowByKey(ctx, targetKey, q.TenantID)
				if err != nil {
					continue
				}
				visited[targetKey] = true
				next = append(next, discovered{row: targetRow, relation: edge.Relation})
			}
		}

		sort.Slice(next, func(i, j int) bool {
			return next[i].row.EntityKey < next[j].row.EntityKey
		})

		var newFrontier []kv.Row
		for _, d := range next {
			hit := Hit{
				EntityType:     d.row.EntityType,
				EntityID:       d.row.EntityID,
				EntityKey:      d.row.EntityKey,
				ContentSummary: d.row.ContentSummary,
				Metadata:       d.row.Metadata,
				Depth:          level,
				Relation:       d.relation,
			}
			if q.Load {
				if loaded, err := e.loadSourceRow(ctx, d.row.EntityType, d.row.EntityID); err == nil {
					hit.Loaded = loaded
				}
			}
			hits = append(hits, hit)
			newFrontier = append(newFrontier, d.row)
		}
		frontier = newFrontier
	}

	return hits, nil
}

func (e *Engine) kvRowByKey(ctx context.Context, normalisedKey, tenantID string) (kv.Row, error) {
	var row kv.Row
	args := []any{normalisedKey}
	where := "entity_key = $1"
	if tenantID != "" {
		args = append(args, tenantID)
		where += " AND tenant_id = $2"
	}
	query := `SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges
		FROM kv_store WHERE ` + where + ` LIMIT 1`
	err := e.db.GetContext(ctx, &row, query, args...)
	return row, err
}
