// Package domain defines the entity types persisted by the memory core.
package domain

import "time"

// EncryptionLevel records how a row's sensitive fields were protected at
// write time. It is stamped once and is immutable thereafter.
type EncryptionLevel string

const (
	EncryptionNone     EncryptionLevel = "none"
	EncryptionDisabled EncryptionLevel = "disabled"
	EncryptionPlatform EncryptionLevel = "platform"
	EncryptionClient   EncryptionLevel = "client"
	EncryptionSealed   EncryptionLevel = "sealed"
)

// Envelope carries the system fields shared by every entity table.
type Envelope struct {
	ID              string            `json:"id" db:"id"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
	DeletedAt       *time.Time        `json:"deleted_at,omitempty" db:"deleted_at"`
	TenantID        string            `json:"tenant_id,omitempty" db:"tenant_id"`
	UserID          string            `json:"user_id,omitempty" db:"user_id"`
	Tags            StringList        `json:"tags,omitempty" db:"tags"`
	Metadata        JSONMap           `json:"metadata,omitempty" db:"metadata"`
	GraphEdges      EdgeList          `json:"graph_edges,omitempty" db:"graph_edges"`
	EncryptionLevel EncryptionLevel   `json:"encryption_level" db:"encryption_level"`
}

// Edge is a typed, weighted link from the owning row to another entity.
type Edge struct {
	Target   string         `json:"target"`
	Relation string         `json:"relation"`
	Weight   float64        `json:"weight,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// MergeEdges merges src into dst, deduplicating on (target, relation) and
// keeping the most recently seen weight/meta for a given pair. Order of
// first appearance is preserved for stable output.
func MergeEdges(dst, src []Edge) []Edge {
	type key struct{ target, relation string }
	index := make(map[key]int, len(dst))
	out := make([]Edge, len(dst))
	copy(out, dst)
	for i, e := range out {
		index[key{e.Target, e.Relation}] = i
	}
	for _, e := range src {
		k := key{e.Target, e.Relation}
		if i, ok := index[k]; ok {
			out[i] = e
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}

// IsSoftDeleted reports whether the row has been soft-deleted.
func (e Envelope) IsSoftDeleted() bool {
	return e.DeletedAt != nil
}

// GetID implements store.Entity.
func (e Envelope) GetID() string { return e.ID }

// GetTenantID implements store.Entity.
func (e Envelope) GetTenantID() string { return e.TenantID }

// SetCreatedAt implements store.Entity.
func (e *Envelope) SetCreatedAt(t time.Time) { e.CreatedAt = t }

// SetUpdatedAt implements store.Entity.
func (e *Envelope) SetUpdatedAt(t time.Time) { e.UpdatedAt = t }
