package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// SchemaKind enumerates the shapes a schemas row may describe.
type SchemaKind string

const (
	SchemaKindModel SchemaKind = "model"
	SchemaKindAgent SchemaKind = "agent"
	SchemaKindTool  SchemaKind = "tool"
	SchemaKindTable SchemaKind = "table"
)

// Schema is a row in the ontology registry. Rows of Kind == table describe
// the control metadata other entity tables are driven by (§4.3, Design Note
// "Dynamic dispatch"); rows of Kind in {model, agent, tool} are consumed by
// the agent adapter.
type Schema struct {
	Envelope
	Name       string         `json:"name" db:"name"`
	Kind       SchemaKind     `json:"kind" db:"kind"`
	Content    string         `json:"content,omitempty" db:"content"`
	JSONSchema JSONMap `json:"json_schema,omitempty" db:"json_schema"`

	// TableControl is populated only when Kind == SchemaKindTable.
	TableControl *TableControl `json:"table_control,omitempty" db:"table_control"`
}

// TableControl is the per-entity-table control metadata described in §3:
// "Per-entity control metadata lives in the schemas row describing that
// table". Implementations must treat the set of entity tables as open and
// data-driven, never hard-coded (Design Note "Dynamic dispatch").
type TableControl struct {
	TableName      string `json:"table_name"`
	HasKVSync      bool   `json:"has_kv_sync"`
	HasEmbeddings  bool   `json:"has_embeddings"`
	EmbeddingField string `json:"embedding_field,omitempty"`
	IsEncrypted    bool   `json:"is_encrypted"`
	// KVSummaryExpr is a small gval expression evaluated against the row
	// (as a map[string]any) to produce the KV content_summary. It must
	// degrade to just the row name when IsEncrypted is true so that no
	// ciphertext leaks into the KV index.
	KVSummaryExpr string `json:"kv_summary_expr,omitempty"`
}

// Value/Scan let *TableControl round-trip through the schemas table's
// table_control jsonb column via the same marshal-on-write,
// unmarshal-on-read idiom as JSONMap.
func (tc TableControl) Value() (driver.Value, error) {
	return json.Marshal(tc)
}

func (tc *TableControl) Scan(src any) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("domain.TableControl: unsupported scan type %T", src)
		}
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, tc)
}
