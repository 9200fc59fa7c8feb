package domain

// SourceRef names one entity a dream moment was synthesised from, used to
// write the `dreamed_from` back-edge onto that entity's own graph_edges
// (§4.9 dreaming phase 2).
type SourceRef struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// AffinityFragment is the structured-output agent's raw association between
// the dream and another entity; the handler translates these into
// domain.Edge values on the new moment's graph_edges.
type AffinityFragment struct {
	Target   string  `json:"target"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight,omitempty"`
}

// DreamMoment is one structured-output element the dreaming agent produces
// in phase 2; the handler upserts it as a moments row with
// moment_type='dream'.
type DreamMoment struct {
	Name              string             `json:"name"`
	Summary           string             `json:"summary"`
	AffinityFragments []AffinityFragment `json:"affinity_fragments,omitempty"`
	SourceRefs        []SourceRef        `json:"source_refs,omitempty"`
}
