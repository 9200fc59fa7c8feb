// Package rem implements the REM retrieval engine (§4.5): a single parser
// for a small query dialect dispatching to LOOKUP, SEARCH, FUZZY, TRAVERSE,
// or a guarded raw-SQL fallback.
package rem

import (
	"strconv"
	"strings"

	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// Verb is the dispatched REM operation.
type Verb string

const (
	VerbLookup   Verb = "lookup"
	VerbSearch   Verb = "search"
	VerbFuzzy    Verb = "fuzzy"
	VerbTraverse Verb = "traverse"
	VerbSQL      Verb = "sql"
)

// Query is a parsed REM statement.
type Query struct {
	Verb           Verb
	Text           string // the quoted argument: key, search text, or traverse key
	Table          string // SEARCH ... FROM table
	Category       string // SEARCH ... CATEGORY c
	Limit          int
	MinSimilarity  float64
	Depth          int    // TRAVERSE ... DEPTH n
	RelationType   string // TRAVERSE ... TYPE rel
	Load           bool   // TRAVERSE ... LOAD
	TenantID       string
	UserID         string
	RawSQL         string // only for VerbSQL
}

const defaultFuzzyMinSimilarity = 0.3

var writeKeywords = []string{"DROP", "TRUNCATE", "ALTER", "DELETE", "INSERT", "UPDATE", "GRANT", "REVOKE"}

// Parse tokenizes raw into a Query. Unknown prefixes fall through to the
// guarded raw-SQL mode per §4.5's dispatch rules.
func Parse(raw string) (*Query, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, perrors.RemParseError(0, "empty query")
	}

	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "LOOKUP"):
		return parseLookup(trimmed)
	case strings.HasPrefix(upper, "SEARCH"):
		return parseSearch(trimmed)
	case strings.HasPrefix(upper, "FUZZY"):
		return parseFuzzy(trimmed)
	case strings.HasPrefix(upper, "TRAVERSE"):
		return parseTraverse(trimmed)
	default:
		return parseSQL(trimmed)
	}
}

// nextQuoted extracts the next "..." substring starting at or after pos,
// returning the unquoted text and the index just past the closing quote.
func nextQuoted(s string, pos int) (string, int, error) {
	start := strings.IndexByte(s[pos:], '"')
	if start < 0 {
		return "", 0, perrors.RemParseError(pos, "expected a quoted string")
	}
	start += pos + 1
	end := strings.IndexByte(s[start:], '"')
	if end < 0 {
		return "", 0, perrors.RemParseError(start, "unterminated quoted string")
	}
	end += start
	return s[start:end], end + 1, nil
}

// tokenAfter splits the remainder of s (from pos) into whitespace-separated
// tokens for option parsing.
func tokenAfter(s string, pos int) []string {
	return strings.Fields(s[pos:])
}

func parseLookup(s string) (*Query, error) {
	key, pos, err := nextQuoted(s, 0)
	if err != nil {
		return nil, err
	}
	q := &Query{Verb: VerbLookup, Text: key}
	applyCommonOptions(q, tokenAfter(s, pos))
	return q, nil
}

func parseSearch(s string) (*Query, error) {
	text, pos, err := nextQuoted(s, 0)
	if err != nil {
		return nil, err
	}
	q := &Query{Verb: VerbSearch, Text: text, Limit: 10, MinSimilarity: defaultFuzzyMinSimilarity}

	tokens := tokenAfter(s, pos)
	for i := 0; i < len(tokens); i++ {
		switch strings.ToUpper(tokens[i]) {
		case "FROM":
			if i+1 < len(tokens) {
				q.Table = tokens[i+1]
				i++
			}
		case "CATEGORY":
			if i+1 < len(tokens) {
				q.Category = tokens[i+1]
				i++
			}
		case "LIMIT":
			if i+1 < len(tokens) {
				q.Limit = atoiOr(tokens[i+1], q.Limit)
				i++
			}
		case "MIN_SIMILARITY":
			if i+1 < len(tokens) {
				q.MinSimilarity = atofOr(tokens[i+1], q.MinSimilarity)
				i++
			}
		case "TENANT_ID":
			if i+1 < len(tokens) {
				q.TenantID = tokens[i+1]
				i++
			}
		case "USER_ID":
			if i+1 < len(tokens) {
				q.UserID = tokens[i+1]
				i++
			}
		}
	}
	if q.Table == "" {
		return nil, perrors.RemParseError(pos, "SEARCH requires FROM table")
	}
	return q, nil
}

func parseFuzzy(s string) (*Query, error) {
	text, pos, err := nextQuoted(s, 0)
	if err != nil {
		return nil, err
	}
	q := &Query{Verb: VerbFuzzy, Text: text, Limit: 10, MinSimilarity: defaultFuzzyMinSimilarity}
	applyCommonOptions(q, tokenAfter(s, pos))
	return q, nil
}

func parseTraverse(s string) (*Query, error) {
	key, pos, err := nextQuoted(s, 0)
	if err != nil {
		return nil, err
	}
	q := &Query{Verb: VerbTraverse, Text: key, Depth: 2}

	tokens := tokenAfter(s, pos)
	for i := 0; i < len(tokens); i++ {
		switch strings.ToUpper(tokens[i]) {
		case "DEPTH":
			if i+1 < len(tokens) {
				q.Depth = atoiOr(tokens[i+1], q.Depth)
				i++
			}
		case "TYPE":
			if i+1 < len(tokens) {
				q.RelationType = tokens[i+1]
				i++
			}
		case "LOAD":
			q.Load = true
		case "TENANT_ID":
			if i+1 < len(tokens) {
				q.TenantID = tokens[i+1]
				i++
			}
		case "USER_ID":
			if i+1 < len(tokens) {
				q.UserID = tokens[i+1]
				i++
			}
		}
	}
	return q, nil
}

func parseSQL(s string) (*Query, error) {
	upper := strings.ToUpper(s)
	for _, kw := range writeKeywords {
		if containsWord(upper, kw) {
			return nil, perrors.RemParseError(0, "write keyword "+kw+" is not allowed in read-only REM SQL")
		}
	}
	return &Query{Verb: VerbSQL, RawSQL: s}, nil
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		abs := idx + i
		before := abs == 0 || !isWordChar(haystack[abs-1])
		after := abs+len(word) >= len(haystack) || !isWordChar(haystack[abs+len(word)])
		if before && after {
			return true
		}
		idx = abs + len(word)
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func applyCommonOptions(q *Query, tokens []string) {
	for i := 0; i < len(tokens); i++ {
		switch strings.ToUpper(tokens[i]) {
		case "LIMIT":
			if i+1 < len(tokens) {
				q.Limit = atoiOr(tokens[i+1], q.Limit)
				i++
			}
		case "MIN_SIMILARITY":
			if i+1 < len(tokens) {
				q.MinSimilarity = atofOr(tokens[i+1], q.MinSimilarity)
				i++
			}
		case "TENANT_ID":
			if i+1 < len(tokens) {
				q.TenantID = tokens[i+1]
				i++
			}
		case "USER_ID":
			if i+1 < len(tokens) {
				q.UserID = tokens[i+1]
				i++
			}
		}
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func atofOr(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}
