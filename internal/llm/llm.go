// Package llm defines the external-collaborator contract this core talks
// to for embeddings and chat completion (§5's "External collaborators":
// LLM and embedding providers live outside the core). Nothing in this
// package makes a network call; production wiring supplies a Client
// against whichever provider SDK an operator chooses, and this package's
// interfaces are shaped to be satisfied by it directly.
package llm

import "context"

// Role is one chat message's speaker, mirroring domain.MessageType for the
// subset that is ever replayed to a model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a chat completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ToolSpec describes one callable tool the model may invoke.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ChatRequest is one agent turn's full request, built by internal/agent's
// prompt assembly.
type ChatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Tools          []ToolSpec     `json:"tools,omitempty"`
	OutputSchema   map[string]any `json:"output_schema,omitempty"`
	Temperature    float64        `json:"temperature,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
}

// EventType enumerates the kinds of event a ChatStream call emits.
type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventToolCall     EventType = "tool_call"
	EventStructured   EventType = "structured_output"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// Event is one unit of a streamed chat completion.
type Event struct {
	Type       EventType      `json:"type"`
	TextDelta  string         `json:"text_delta,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	InputTokens  int64        `json:"input_tokens,omitempty"`
	OutputTokens int64        `json:"output_tokens,omitempty"`
	Err        error          `json:"-"`
}

// Client is the full external-collaborator contract: embeddings for
// internal/rem and internal/embedding, and streaming chat completion for
// internal/agent. Provider() names the model/provider for embedding rows'
// (entity_id, field, provider) uniqueness and for metrics labels.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan Event, error)
	Provider() string
}
