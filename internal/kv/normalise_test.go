package kv

import "testing"

func TestNormaliseKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Jon   Smith  ", "jon-smith"},
		{"Café Résumé", "caf-rsum"},
		{"already-normalised", "already-normalised"},
		{"multiple___underscores", "multiple-underscores"},
		{"--leading-and-trailing--", "leading-and-trailing"},
		{"UPPER CASE", "upper-case"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormaliseKey(c.in); got != c.want {
			t.Errorf("NormaliseKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormaliseKeyIsIdempotent(t *testing.T) {
	inputs := []string{"  Jon   Smith  ", "Café Résumé", "already-normalised", ""}
	for _, in := range inputs {
		once := NormaliseKey(in)
		twice := NormaliseKey(once)
		if once != twice {
			t.Errorf("NormaliseKey not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}
