package rem

import (
	"testing"

	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

func TestParseLookupBasic(t *testing.T) {
	q, err := Parse(`LOOKUP "user:42"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Verb != VerbLookup || q.Text != "user:42" {
		t.Errorf("got %+v", q)
	}
}

func TestParseLookupWithTenantAndUser(t *testing.T) {
	q, err := Parse(`LOOKUP "session:9" TENANT_ID t1 USER_ID u1`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.TenantID != "t1" || q.UserID != "u1" {
		t.Errorf("got %+v", q)
	}
}

func TestParseSearchDefaultsAndOptions(t *testing.T) {
	q, err := Parse(`SEARCH "hiking trip" FROM moments CATEGORY travel LIMIT 5 MIN_SIMILARITY 0.5`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Verb != VerbSearch || q.Table != "moments" || q.Category != "travel" {
		t.Errorf("got %+v", q)
	}
	if q.Limit != 5 || q.MinSimilarity != 0.5 {
		t.Errorf("got limit=%d min_similarity=%f", q.Limit, q.MinSimilarity)
	}
}

func TestParseSearchWithoutFromIsAnError(t *testing.T) {
	_, err := Parse(`SEARCH "no table here"`)
	if err == nil {
		t.Fatal("expected an error when SEARCH has no FROM clause")
	}
	if !perrors.Is(err, perrors.CodeRemParseError) {
		t.Fatalf("expected CodeRemParseError, got %v", err)
	}
}

func TestParseFuzzyDefaults(t *testing.T) {
	q, err := Parse(`FUZZY "jon smith"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Verb != VerbFuzzy || q.Limit != 10 || q.MinSimilarity != defaultFuzzyMinSimilarity {
		t.Errorf("got %+v", q)
	}
}

func TestParseTraverseDefaultsAndOptions(t *testing.T) {
	q, err := Parse(`TRAVERSE "moment:7" DEPTH 3 TYPE related_to LOAD`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Verb != VerbTraverse || q.Depth != 3 || q.RelationType != "related_to" || !q.Load {
		t.Errorf("got %+v", q)
	}
}

func TestParseTraverseDefaultDepthIsTwo(t *testing.T) {
	q, err := Parse(`TRAVERSE "moment:7"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Depth != 2 {
		t.Errorf("got depth %d, want 2", q.Depth)
	}
}

func TestParseFallsThroughToSQLForUnknownVerb(t *testing.T) {
	q, err := Parse(`SELECT id FROM moments WHERE tenant_id = 't1'`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Verb != VerbSQL || q.RawSQL == "" {
		t.Errorf("got %+v", q)
	}
}

func TestParseSQLRejectsWriteKeywords(t *testing.T) {
	cases := []string{
		`DELETE FROM moments`,
		`UPDATE moments SET name = 'x'`,
		`DROP TABLE moments`,
		`TRUNCATE moments`,
		`ALTER TABLE moments ADD COLUMN x int`,
		`INSERT INTO moments (id) VALUES ('1')`,
		`GRANT ALL ON moments TO public`,
		`REVOKE ALL ON moments FROM public`,
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("expected %q to be rejected", c)
		}
	}
}

func TestParseSQLDoesNotFalsePositiveOnSubstringMatch(t *testing.T) {
	// "updated_at" contains "UPDATE" as a substring but isn't the keyword.
	q, err := Parse(`SELECT updated_at FROM moments`)
	if err != nil {
		t.Fatalf("expected this query to be allowed, got error: %v", err)
	}
	if q.Verb != VerbSQL {
		t.Errorf("got %+v", q)
	}
}

func TestParseEmptyQueryIsAnError(t *testing.T) {
	if _, err := Parse("   "); err == nil {
		t.Fatal("expected an error for an empty query")
	}
}

func TestParseLookupMissingQuoteIsAnError(t *testing.T) {
	if _, err := Parse(`LOOKUP user:42`); err == nil {
		t.Fatal("expected an error for a missing quoted argument")
	}
}

func TestParseLookupUnterminatedQuoteIsAnError(t *testing.T) {
	if _, err := Parse(`LOOKUP "user:42`); err == nil {
		t.Fatal("expected an error for an unterminated quoted argument")
	}
}

func TestParseIsCaseInsensitiveOnVerbs(t *testing.T) {
	q, err := Parse(`lookup "user:42"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Verb != VerbLookup {
		t.Errorf("got verb %q", q.Verb)
	}
}

func TestParseSearchInvalidNumericOptionsFallBackToDefaults(t *testing.T) {
	q, err := Parse(`SEARCH "x" FROM moments LIMIT notanumber MIN_SIMILARITY notanumber`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Limit != 10 || q.MinSimilarity != defaultFuzzyMinSimilarity {
		t.Errorf("expected defaults to survive invalid overrides, got %+v", q)
	}
}
