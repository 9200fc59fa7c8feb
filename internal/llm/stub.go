package llm

import (
	"context"
	"crypto/sha256"
)

// StubClient is a deterministic, network-free Client used by tests and
// local development. Embeddings are a fixed-width hash projection of the
// input text (stable across calls, never a real semantic embedding);
// ChatStream echoes the last user message as a single text_delta event
// followed by done, or emits a structured_output event built from
// req.OutputSchema's keys when one is set.
type StubClient struct {
	Dims int
}

func NewStubClient(dims int) *StubClient {
	if dims <= 0 {
		dims = 16
	}
	return &StubClient{Dims: dims}
}

func (c *StubClient) Provider() string { return "stub" }

func (c *StubClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashEmbed(text, c.Dims)
	}
	return out, nil
}

func (c *StubClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	events := make(chan Event, 4)
	go func() {
		defer close(events)

		if req.OutputSchema != nil {
			structured := map[string]any{}
			for key := range req.OutputSchema {
				structured[key] = ""
			}
			events <- Event{Type: EventStructured, Structured: structured}
			events <- Event{Type: EventDone}
			return
		}

		var last string
		for _, m := range req.Messages {
			if m.Role == RoleUser {
				last = m.Content
			}
		}
		events <- Event{Type: EventTextDelta, TextDelta: last}
		events <- Event{Type: EventDone}
	}()
	return events, nil
}

// hashEmbed projects text into a deterministic unit-ish vector via SHA-256,
// enough to exercise pgvector's storage/ANN path in tests without a real
// embedding model.
func hashEmbed(text string, dims int) []float32 {
	sum := sha256.Sum256([]byte(text))
	out := make([]float32, dims)
	for i := range out {
		out[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return out
}
