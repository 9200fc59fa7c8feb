package rem

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func TestEngineTraverseOneHop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	startEdges := `[{"target":"moment:2","relation":"related_to"}]`
	mock.ExpectQuery(`SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges\s+FROM kv_store WHERE entity_key = \$1 LIMIT 1`).
		WithArgs("moment1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "entity_key", "entity_type", "entity_id", "content_summary", "metadata", "graph_edges"}).
			AddRow("t1", "moment1", "moments", "m1", "first moment", nil, []byte(startEdges)))

	mock.ExpectQuery(`SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges\s+FROM kv_store WHERE entity_key = \$1 LIMIT 1`).
		WithArgs("moment2").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "entity_key", "entity_type", "entity_id", "content_summary", "metadata", "graph_edges"}).
			AddRow("t1", "moment2", "moments", "m2", "second moment", nil, []byte(`[]`)))

	e := newTestEngine(sqlxDB, nil)
	hits, err := e.Run(context.Background(), `TRAVERSE "moment:1" DEPTH 1`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].EntityID != "m2" || hits[0].Depth != 1 || hits[0].Relation != "related_to" {
		t.Errorf("got %+v", hits[0])
	}
	if hits[0].Loaded != nil {
		t.Error("expected Loaded to be nil without LOAD")
	}
}

func TestEngineTraverseStartNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "entity_key", "entity_type", "entity_id", "content_summary", "metadata", "graph_edges"}))

	e := newTestEngine(sqlxDB, nil)
	if _, err := e.Run(context.Background(), `TRAVERSE "missing"`); err == nil {
		t.Fatal("expected a not-found error")
	}
}

func TestEngineTraverseFiltersByRelationType(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	startEdges := `[{"target":"moment:2","relation":"mentions"},{"target":"moment:3","relation":"related_to"}]`
	mock.ExpectQuery(`SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges\s+FROM kv_store WHERE entity_key = \$1 LIMIT 1`).
		WithArgs("moment1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "entity_key", "entity_type", "entity_id", "content_summary", "metadata", "graph_edges"}).
			AddRow("t1", "moment1", "moments", "m1", "first moment", nil, []byte(startEdges)))

	mock.ExpectQuery(`SELECT tenant_id, entity_key, entity_type, entity_id, content_summary, metadata, graph_edges\s+FROM kv_store WHERE entity_key = \$1 LIMIT 1`).
		WithArgs("moment3").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "entity_key", "entity_type", "entity_id", "content_summary", "metadata", "graph_edges"}).
			AddRow("t1", "moment3", "moments", "m3", "third moment", nil, []byte(`[]`)))

	e := newTestEngine(sqlxDB, nil)
	hits, err := e.Run(context.Background(), `TRAVERSE "moment:1" DEPTH 1 TYPE related_to`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(hits) != 1 || hits[0].EntityID != "m3" {
		t.Errorf("got %+v, expected only the related_to edge to m3", hits)
	}
}
