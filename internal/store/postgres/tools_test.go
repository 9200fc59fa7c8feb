package postgres

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

func TestToolRegistryToolByNameUnscoped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT \* FROM tools WHERE name = \$1 AND deleted_at IS NULL LIMIT 1`).
		WithArgs("search").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "server_id", "description"}).
			AddRow("tool1", "search", "srv1", "search the web"))
	mock.ExpectQuery(`SELECT \* FROM servers WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs("srv1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "base_url"}).
			AddRow("srv1", "websearch", srv.URL))

	r := NewToolRegistry(sqlxDB)
	tool, err := r.ToolByName(context.Background(), "search", "")
	if err != nil {
		t.Fatalf("tool by name: %v", err)
	}
	if tool.Name() != "search" {
		t.Errorf("got name %q, want %q", tool.Name(), "search")
	}
	if tool.Description() != "search the web" {
		t.Errorf("got description %q", tool.Description())
	}

	out, err := tool.Invoke(context.Background(), map[string]any{"query": "go"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["result"] != "ok" {
		t.Errorf("got %v, want result=ok", out)
	}
}

func TestToolRegistryToolByNameScopedToServer(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT tools\.\* FROM tools\s+JOIN servers ON servers\.id = tools\.server_id\s+WHERE tools\.name = \$1 AND servers\.name = \$2`).
		WithArgs("search", "websearch").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "server_id", "description"}).
			AddRow("tool1", "search", "srv1", "search the web"))
	mock.ExpectQuery(`SELECT \* FROM servers WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs("srv1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "base_url"}).
			AddRow("srv1", "websearch", "http://example.invalid"))

	r := NewToolRegistry(sqlxDB)
	tool, err := r.ToolByName(context.Background(), "search", "websearch")
	if err != nil {
		t.Fatalf("tool by name: %v", err)
	}
	if tool.Name() != "search" {
		t.Errorf("got name %q", tool.Name())
	}
}

func TestToolRegistryToolByNameNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT \* FROM tools WHERE name = \$1 AND deleted_at IS NULL LIMIT 1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "server_id", "description"}))

	r := NewToolRegistry(sqlxDB)
	_, err = r.ToolByName(context.Background(), "missing", "")
	if err == nil {
		t.Fatal("expected a not-found error")
	}
	if !perrors.Is(err, perrors.CodeNotFound) {
		t.Fatalf("expected CodeNotFound, got %v", err)
	}
}

func TestToolInvokeNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	mock.ExpectQuery(`SELECT \* FROM tools WHERE name = \$1 AND deleted_at IS NULL LIMIT 1`).
		WithArgs("broken").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "server_id", "description"}).
			AddRow("tool2", "broken", "srv2", ""))
	mock.ExpectQuery(`SELECT \* FROM servers WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs("srv2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "base_url"}).
			AddRow("srv2", "brokensrv", srv.URL))

	r := NewToolRegistry(sqlxDB)
	tool, err := r.ToolByName(context.Background(), "broken", "")
	if err != nil {
		t.Fatalf("tool by name: %v", err)
	}
	if _, err := tool.Invoke(context.Background(), nil); err == nil {
		t.Fatal("expected invoke to fail on a 500 response")
	}
}
