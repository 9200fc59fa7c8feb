package domain

import (
	"strings"

	"github.com/google/uuid"
)

// IDNamespace is the root UUID every deterministic id in the core is derived
// from via uuid_v5 (§4.3 "Deterministic identifiers").
type IDNamespace uuid.UUID

// DefaultNamespace is the namespace used when no tenant-specific override is
// configured. A real deployment may derive a per-install namespace instead;
// any fixed UUID works as long as it is stable across processes.
var DefaultNamespace = IDNamespace(uuid.MustParse("8f14e45f-ceea-467e-9bdd-2cce14c43cc8"))

// DeterministicID builds `table || ':' || key || ':' || extra?` and returns
// uuid_v5(namespace, that string), matching §4.3 exactly:
//
//	uuid_v5(NAMESPACE, table || ':' || key || ':' || user_id?)
func DeterministicID(ns IDNamespace, table, key string, extra ...string) string {
	name := table + ":" + key + ":" + strings.Join(extra, ":")
	return uuid.NewSHA1(uuid.UUID(ns), []byte(name)).String()
}

// NewID returns an opaque random 128-bit identifier for entities that do not
// require deterministic ids.
func NewID() string {
	return uuid.NewString()
}
