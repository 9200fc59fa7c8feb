// Package kv implements the KV index (§4.4): an ephemeral, trigger-fed
// cache of (tenant, normalised_key) -> (entity_type, entity_id,
// content_summary, metadata, graph_edges), plus the full and incremental
// rebuild passes that make it safely reconstructible after loss.
package kv

import (
	"regexp"
	"strings"
)

var (
	nonKeyChars  = regexp.MustCompile(`[^a-zA-Z0-9\-_ ]+`)
	whitespaceRe = regexp.MustCompile(`[\s_]+`)
	dashRunRe    = regexp.MustCompile(`-{2,}`)
)

// NormaliseKey implements §4.4's rule: trim -> strip
// non-alphanumeric/non-"-_" -> collapse whitespace/underscores to "-" ->
// lowercase -> collapse "--+" to "-", and then trims any leading or
// trailing "-". It is deterministic and idempotent:
// NormaliseKey(NormaliseKey(s)) == NormaliseKey(s) for all s.
func NormaliseKey(name string) string {
	s := strings.TrimSpace(name)
	s = nonKeyChars.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, "-")
	s = strings.ToLower(s)
	s = dashRunRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
