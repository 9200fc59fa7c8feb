// Package seed bootstraps the schemas registry (§4.3 "Dynamic dispatch") at
// install time from a YAML fixture, the way pkg/config/config.go loads its
// config.yaml: os.ReadFile + yaml.Unmarshal, no templating layer.
package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// Fixture is the top-level shape of a seed YAML file: one entry per schemas
// row, grouped by kind for readability.
type Fixture struct {
	Tables []TableEntry `yaml:"tables"`
	Agents []RawEntry   `yaml:"agents"`
	Tools  []RawEntry   `yaml:"tools"`
	Models []RawEntry   `yaml:"models"`
}

// TableEntry seeds one schemas row of Kind == table, i.e. one entity
// table's control metadata (§3 "Per-entity control metadata").
type TableEntry struct {
	Name           string `yaml:"name"`
	TableName      string `yaml:"table_name"`
	HasKVSync      bool   `yaml:"has_kv_sync"`
	HasEmbeddings  bool   `yaml:"has_embeddings"`
	EmbeddingField string `yaml:"embedding_field"`
	IsEncrypted    bool   `yaml:"is_encrypted"`
	KVSummaryExpr  string `yaml:"kv_summary_expr"`
}

// RawEntry seeds a schemas row of Kind in {agent, tool, model}: a name, free
// text content (an agent's system prompt, a tool's description) and a JSON
// schema blob (an agent's structured-output contract, a tool's input
// schema).
type RawEntry struct {
	Name       string         `yaml:"name"`
	Content    string         `yaml:"content"`
	JSONSchema map[string]any `yaml:"json_schema"`
}

// Load reads and parses a seed fixture from path.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	return &f, nil
}

// Apply upserts every row in f into the schemas table, keyed on its
// (name, kind) unique constraint — re-running a seed fixture is always
// idempotent, matching the migrations' own idempotency guarantee.
func Apply(ctx context.Context, db *sqlx.DB, f *Fixture) error {
	for _, t := range f.Tables {
		tc := domain.TableControl{
			TableName:      t.TableName,
			HasKVSync:      t.HasKVSync,
			HasEmbeddings:  t.HasEmbeddings,
			EmbeddingField: t.EmbeddingField,
			IsEncrypted:    t.IsEncrypted,
			KVSummaryExpr:  t.KVSummaryExpr,
		}
		if err := upsert(ctx, db, domain.Schema{
			Name:         t.Name,
			Kind:         domain.SchemaKindTable,
			TableControl: &tc,
		}); err != nil {
			return fmt.Errorf("seed: table %s: %w", t.Name, err)
		}
	}
	for _, a := range f.Agents {
		if err := upsert(ctx, db, domain.Schema{
			Name:       a.Name,
			Kind:       domain.SchemaKindAgent,
			Content:    a.Content,
			JSONSchema: domain.JSONMap(a.JSONSchema),
		}); err != nil {
			return fmt.Errorf("seed: agent %s: %w", a.Name, err)
		}
	}
	for _, tool := range f.Tools {
		if err := upsert(ctx, db, domain.Schema{
			Name:       tool.Name,
			Kind:       domain.SchemaKindTool,
			Content:    tool.Content,
			JSONSchema: domain.JSONMap(tool.JSONSchema),
		}); err != nil {
			return fmt.Errorf("seed: tool %s: %w", tool.Name, err)
		}
	}
	for _, m := range f.Models {
		if err := upsert(ctx, db, domain.Schema{
			Name:       m.Name,
			Kind:       domain.SchemaKindModel,
			Content:    m.Content,
			JSONSchema: domain.JSONMap(m.JSONSchema),
		}); err != nil {
			return fmt.Errorf("seed: model %s: %w", m.Name, err)
		}
	}
	return nil
}

func upsert(ctx context.Context, db *sqlx.DB, s domain.Schema) error {
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO schemas (name, kind, content, json_schema, table_control)
		VALUES (:name, :kind, :content, :json_schema, :table_control)
		ON CONFLICT (name, kind) DO UPDATE SET
			content = EXCLUDED.content,
			json_schema = EXCLUDED.json_schema,
			table_control = EXCLUDED.table_control,
			updated_at = now()`,
		s)
	if err != nil {
		return perrors.TransientStore("seed_upsert", err)
	}
	return nil
}
