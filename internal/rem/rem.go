package rem

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/kv"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// Embedder embeds text into the vector space used by the configured
// embedding provider. internal/llm supplies the production implementation;
// tests supply a deterministic stub.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Provider() string
}

// SchemaSource resolves a table's control metadata for dynamic dispatch.
type SchemaSource interface {
	TableByName(ctx context.Context, name string) (*domain.Schema, error)
}

// Hit is one result row from any REM mode. Not every field is populated by
// every mode: Score is only set by SEARCH/FUZZY, Depth/Relation only by
// TRAVERSE.
type Hit struct {
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	EntityKey      string         `json:"entity_key,omitempty"`
	ContentSummary string         `json:"content_summary,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Score          float64        `json:"similarity_score,omitempty"`
	Depth          int            `json:"depth,omitempty"`
	Relation       string         `json:"relation,omitempty"`
	Loaded         map[string]any `json:"loaded,omitempty"`
}

// Engine executes parsed Queries against the store.
type Engine struct {
	db       *sqlx.DB
	schemas  SchemaSource
	embedder Embedder
}

func NewEngine(db *sqlx.DB, schemas SchemaSource, embedder Embedder) *Engine {
	return &Engine{db: db, schemas: schemas, embedder: embedder}
}

// Run parses and dispatches a raw REM query string.
func (e *Engine) Run(ctx context.Context, raw string) ([]Hit, error) {
	q, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, q)
}

// Execute dispatches an already-parsed Query.
func (e *Engine) Execute(ctx context.Context, q *Query) ([]Hit, error) {
	switch q.Verb {
	case VerbLookup:
		return e.lookup(ctx, q)
	case VerbSearch:
		return e.search(ctx, q)
	case VerbFuzzy:
		return e.fuzzy(ctx, q)
	case VerbTraverse:
		return e.traverse(ctx, q)
	case VerbSQL:
		return e.rawSQL(ctx, q)
	default:
		return nil, perrors.RemParseError(0, "unknown REM verb")
	}
}

// lookup resolves a normalised key against kv_store, then joins the source
// row from its originating table so callers get the live row, not a stale
// cached summary.
func (e *Engine) lookup(ctx context.Context, q *Query) ([]Hit, error) {
	key := kv.NormaliseKey(q.Text)

	args := []any{key}
	where := "entity_key = $1"
	if q.TenantID != "" {
		args = append(args, q.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}

	var row kv.Row
	query := fmt.Sprintf(`SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges
		FROM kv_store WHERE %s LIMIT 1`, where)
	if err := e.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, perrors.NotFound("kv_store", q.Text)
	}

	hit := Hit{
		EntityType:     row.EntityType,
		EntityID:       row.EntityID,
		EntityKey:      row.EntityKey,
		ContentSummary: row.ContentSummary,
		Metadata:       row.Metadata,
	}

	loaded, err := e.loadSourceRow(ctx, row.EntityType, row.EntityID)
	if err == nil {
		hit.Loaded = loaded
	}
	return []Hit{hit}, nil
}

// search embeds q.Text with the configured provider and finds the nearest
// neighbours in embeddings_<table> by cosine distance. embeddings_<table>
// carries no tenant/user/category columns of its own, so any scoping in
// q.TenantID/q.UserID/q.Category is applied by joining back to the source
// table (the same table every entity's Envelope lives on), mirroring how
// lookup/fuzzy scope against kv_store's own tenant_id column.
func (e *Engine) search(ctx context.Context, q *Query) ([]Hit, error) {
	if e.embedder == nil {
		return nil, perrors.Internal("rem: no embedder configured", nil)
	}
	if e.schemas != nil {
		schema, err := e.schemas.TableByName(ctx, q.Table)
		if err != nil {
			return nil, perrors.TransientStore("rem_search:schema_lookup", err)
		}
		if schema == nil {
			return nil, perrors.RemParseError(0, "SEARCH: unknown table "+q.Table)
		}
	}

	vectors, err := e.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeInternal, "rem: embed search text", err)
	}
	if len(vectors) == 0 {
		return nil, perrors.Internal("rem: embedder returned no vectors", nil)
	}

	embTable := fmt.Sprintf("embeddings_%s", q.Table)
	args := []any{pgvectorLiteral(vectors[0]), e.embedder.Provider()}
	where := []string{"e.provider = $2"}

	if q.MinSimilarity > 0 {
		args = append(args, q.MinSimilarity)
		where = append(where, fmt.Sprintf("(1 - (e.vector <=> $1)) >= $%d", len(args)))
	}
	if q.TenantID != "" {
		args = append(args, q.TenantID)
		where = append(where, fmt.Sprintf("s.tenant_id = $%d", len(args)))
	}
	if q.UserID != "" {
		args = append(args, q.UserID)
		where = append(where, fmt.Sprintf("s.user_id = $%d", len(args)))
	}
	if q.Category != "" {
		args = append(args, q.Category)
		where = append(where, fmt.Sprintf("s.category = $%d", len(args)))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf(`
		SELECT e.entity_id, 1 - (e.vector <=> $1) AS score
		FROM %s e
		JOIN %s s ON s.id = e.entity_id
		WHERE %s
		ORDER BY e.vector <=> $1
		LIMIT %d`, embTable, q.Table, strings.Join(where, " AND "), limit)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, perrors.TransientStore("rem_search:"+embTable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var entityID string
		var score float64
		if err := rows.Scan(&entityID, &score); err != nil {
			return nil, perrors.Internal("rem_search:scan", err)
		}
		hit := Hit{EntityType: q.Table, EntityID: entityID, Score: clampUnit(score)}
		if summary, err := e.summaryFor(ctx, q.Table, entityID); err == nil {
			hit.ContentSummary = summary
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// fuzzy runs trigram similarity over kv_store's entity_key and
// content_summary columns, the cheap fallback for queries an embedding
// search would be overkill for.
func (e *Engine) fuzzy(ctx context.Context, q *Query) ([]Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	minSim := q.MinSimilarity
	if minSim <= 0 {
		minSim = defaultFuzzyMinSimilarity
	}

	args := []any{q.Text, minSim}
	where := "similarity(entity_key || ' ' || content_summary, $1) >= $2"
	if q.TenantID != "" {
		args = append(args, q.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}

	query := fmt.Sprintf(`
		SELECT entity_type, entity_id, entity_key, content_summary, metadata,
		       similarity(entity_key || ' ' || content_summary, $1) AS score
		FROM kv_store
		WHERE %s
		ORDER BY score DESC
		LIMIT %d`, where, limit)

	var rows []struct {
		EntityType     string         `db:"entity_type"`
		EntityID       string         `db:"entity_id"`
		EntityKey      string         `db:"entity_key"`
		ContentSummary string         `db:"content_summary"`
		Metadata       domain.JSONMap `db:"metadata"`
		Score          float64        `db:"score"`
	}
	if err := e.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, perrors.TransientStore("rem_fuzzy", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{
			EntityType:     r.EntityType,
			EntityID:       r.EntityID,
			EntityKey:      r.EntityKey,
			ContentSummary: r.ContentSummary,
			Metadata:       r.Metadata,
			Score:          clampUnit(r.Score),
		})
	}
	return hits, nil
}

// rawSQL runs an already write-keyword-guarded SELECT. The guard lives in
// Parse; by the time a Query reaches here its verb is VerbSQL only if it
// passed that check.
func (e *Engine) rawSQL(ctx context.Context, q *Query) ([]Hit, error) {
	rows, err := e.db.QueryxContext(ctx, q.RawSQL)
	if err != nil {
		return nil, perrors.RemParseError(0, "sql execution failed: "+err.Error())
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, perrors.Internal("rem_sql:mapscan", err)
		}
		hit := Hit{Metadata: row}
		if id, ok := row["id"].(string); ok {
			hit.EntityID = id
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (e *Engine) loadSourceRow(ctx context.Context, table, id string) (map[string]any, error) {
	if table == "" {
		return nil, perrors.InvalidInput("table", "empty")
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = $1", table)
	row := map[string]any{}
	rows, err := e.db.QueryxContext(ctx, query, id)
	if err != nil {
		return nil, perrors.TransientStore("rem_load_source:"+table, err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (e *Engine) summaryFor(ctx context.Context, table, entityID string) (string, error) {
	var summary string
	err := e.db.GetContext(ctx, &summary,
		`SELECT content_summary FROM kv_store WHERE entity_type = $1 AND entity_id = $2 LIMIT 1`,
		table, entityID)
	return summary, err
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// pgvectorLiteral renders a float32 slice as a pgvector literal, e.g.
// "[0.1,0.2,0.3]", for binding into a $1 parameter against a vector column.
func pgvectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", f)
	}
	b.WriteByte(']')
	return b.String()
}
