package agent

import "github.com/percolation-labs/p8k8/internal/domain"

// toolSpec is one entry of an agent schema's "tools" list (§4.10).
type toolSpec struct {
	Name        string
	Server      string
	Description string
}

// description returns the agent's system prompt (the schema's top-level
// JSON Schema "description").
func description(s *domain.Schema) string {
	v, _ := s.JSONSchema["description"].(string)
	return v
}

// properties returns the schema's "properties" block, used both to render
// the "## Thinking Structure" prompt section and, when structured output
// is enabled, as the model's response schema.
func properties(s *domain.Schema) map[string]any {
	v, _ := s.JSONSchema["properties"].(map[string]any)
	return v
}

func tools(s *domain.Schema) []toolSpec {
	raw, _ := s.JSONSchema["tools"].([]any)
	out := make([]toolSpec, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		server, _ := m["server"].(string)
		desc, _ := m["description"].(string)
		out = append(out, toolSpec{Name: name, Server: server, Description: desc})
	}
	return out
}

func model(s *domain.Schema) string {
	v, _ := s.JSONSchema["model"].(string)
	return v
}

func temperature(s *domain.Schema) float64 {
	v, ok := s.JSONSchema["temperature"].(float64)
	if !ok {
		return 0.7
	}
	return v
}

func structuredOutput(s *domain.Schema) bool {
	v, _ := s.JSONSchema["structured_output"].(bool)
	return v
}

// chainedTool returns the tool name invoked after a structured response,
// or "" when the schema has none configured.
func chainedTool(s *domain.Schema) string {
	v, _ := s.JSONSchema["chained_tool"].(string)
	return v
}

// outputSchema is the object sent to the model as its response schema when
// structured_output is enabled: the schema's properties block verbatim,
// with the top-level description stripped so the model's response schema
// doesn't duplicate the system prompt (§4.10).
func outputSchema(s *domain.Schema) map[string]any {
	return properties(s)
}
