package rem

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/domain"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return [][]float32{f.vector}, nil
}

func (f *fakeEmbedder) Provider() string { return "fake" }

func newTestEngine(db *sqlx.DB, embedder Embedder) *Engine {
	return NewEngine(db, nil, embedder)
}

func TestEngineRunDispatchesLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges\s+FROM kv_store WHERE entity_key = \$1 LIMIT 1`).
		WithArgs("user42").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "entity_key", "entity_type", "entity_id", "content_summary", "metadata", "graph_edges"}).
			AddRow("t1", "user42", "users", "u1", "Jane Doe", nil, nil))
	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("u1", "Jane Doe"))

	e := newTestEngine(sqlxDB, nil)
	hits, err := e.Run(context.Background(), `LOOKUP "user:42"`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].EntityID != "u1" || hits[0].ContentSummary != "Jane Doe" {
		t.Errorf("got %+v", hits[0])
	}
	if hits[0].Loaded == nil {
		t.Error("expected the source row to be loaded")
	}
}

func TestEngineLookupNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "entity_key", "entity_type", "entity_id", "content_summary", "metadata", "graph_edges"}))

	e := newTestEngine(sqlxDB, nil)
	if _, err := e.Run(context.Background(), `LOOKUP "missing"`); err == nil {
		t.Fatal("expected a not-found error")
	}
}

func TestEngineSearchNoEmbedderConfiguredIsAnError(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	e := newTestEngine(sqlxDB, nil)
	if _, err := e.Run(context.Background(), `SEARCH "hiking" FROM moments`); err == nil {
		t.Fatal("expected an error when no embedder is configured")
	}
}

func TestEngineSearchOrdersByDistance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT e\.entity_id, 1 - \(e\.vector <=> \$1\) AS score\s+FROM embeddings_moments e\s+JOIN moments s ON s\.id = e\.entity_id`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "score"}).
			AddRow("m1", 0.92).
			AddRow("m2", 0.81))
	mock.ExpectQuery(`SELECT content_summary FROM kv_store WHERE entity_type = \$1 AND entity_id = \$2 LIMIT 1`).
		WithArgs("moments", "m1").
		WillReturnRows(sqlmock.NewRows([]string{"content_summary"}).AddRow("a hike"))
	mock.ExpectQuery(`SELECT content_summary FROM kv_store WHERE entity_type = \$1 AND entity_id = \$2 LIMIT 1`).
		WithArgs("moments", "m2").
		WillReturnRows(sqlmock.NewRows([]string{"content_summary"}).AddRow("another hike"))

	e := newTestEngine(sqlxDB, &fakeEmbedder{vector: []float32{0.1, 0.2}})
	hits, err := e.Run(context.Background(), `SEARCH "hiking trip" FROM moments LIMIT 2`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].EntityID != "m1" || hits[0].Score != 0.92 {
		t.Errorf("got %+v", hits[0])
	}
}

func TestEngineSearchScopesByTenantUserAndCategory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT e\.entity_id, 1 - \(e\.vector <=> \$1\) AS score\s+FROM embeddings_resources e\s+JOIN resources s ON s\.id = e\.entity_id\s+WHERE e\.provider = \$2 AND \(1 - \(e\.vector <=> \$1\)\) >= \$3 AND s\.tenant_id = \$4 AND s\.user_id = \$5 AND s\.category = \$6`).
		WithArgs(sqlmock.AnyArg(), "fake", defaultFuzzyMinSimilarity, "t1", "u1", "travel").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "score"}).AddRow("r1", 0.9))
	mock.ExpectQuery(`SELECT content_summary FROM kv_store WHERE entity_type = \$1 AND entity_id = \$2 LIMIT 1`).
		WithArgs("resources", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"content_summary"}).AddRow("a trip"))

	e := newTestEngine(sqlxDB, &fakeEmbedder{vector: []float32{0.1, 0.2}})
	hits, err := e.Run(context.Background(), `SEARCH "trip" FROM resources CATEGORY travel TENANT_ID t1 USER_ID u1`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(hits) != 1 || hits[0].EntityID != "r1" {
		t.Errorf("got %+v", hits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

type fakeSchemaSourceForSearch struct {
	schemas map[string]*domain.Schema
}

func (f *fakeSchemaSourceForSearch) TableByName(ctx context.Context, name string) (*domain.Schema, error) {
	return f.schemas[name], nil
}

func TestEngineSearchRejectsUnknownTableWhenSchemasConfigured(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	schemas := &fakeSchemaSourceForSearch{schemas: map[string]*domain.Schema{}}
	e := NewEngine(sqlxDB, schemas, &fakeEmbedder{vector: []float32{0.1}})
	if _, err := e.Run(context.Background(), `SEARCH "x" FROM not_a_table`); err == nil {
		t.Fatal("expected an error for an unregistered table")
	}
}

func TestEngineFuzzyAppliesDefaultMinSimilarity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT entity_type, entity_id, entity_key, content_summary, metadata,\s+similarity\(entity_key \|\| ' ' \|\| content_summary, \$1\) AS score\s+FROM kv_store`).
		WithArgs("jon smith", defaultFuzzyMinSimilarity).
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "entity_id", "entity_key", "content_summary", "metadata", "score"}).
			AddRow("users", "u9", "jon-smith", "Jon Smith", nil, 0.6))

	e := newTestEngine(sqlxDB, nil)
	hits, err := e.Run(context.Background(), `FUZZY "jon smith"`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(hits) != 1 || hits[0].EntityID != "u9" {
		t.Errorf("got %+v", hits)
	}
}

func TestEngineRawSQLRunsSelectAndMapsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT id, name FROM users WHERE tenant_id = 't1'`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("u1", "Jane"))

	e := newTestEngine(sqlxDB, nil)
	hits, err := e.Run(context.Background(), `SELECT id, name FROM users WHERE tenant_id = 't1'`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(hits) != 1 || hits[0].EntityID != "u1" {
		t.Errorf("got %+v", hits)
	}
}

func TestEngineRawSQLRejectsWriteKeywordsBeforeTouchingTheDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	e := newTestEngine(sqlxDB, nil)
	if _, err := e.Run(context.Background(), `DELETE FROM users`); err == nil {
		t.Fatal("expected the write-guard to reject this query")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expected no queries to reach the database, got: %v", err)
	}
}

func TestClampUnit(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0.5, 0.5},
		{1.5, 1},
	}
	for _, c := range cases {
		if got := clampUnit(c.in); got != c.want {
			t.Errorf("clampUnit(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestPgvectorLiteral(t *testing.T) {
	got := pgvectorLiteral([]float32{0.1, 0.2, 0.3})
	want := "[0.1,0.2,0.3]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
