package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/llm"
)

// contextTokenBudget and liveWindowMessages bound the history replayed into
// every agent call; they are the fixed arguments passed to
// internal/chatmemory.LoadContext. The Memory budget settings in
// internal/platform/config are not read here.
const (
	contextTokenBudget = 6000
	liveWindowMessages = 20
)

// systemPrompt assembles §4.10 step 1: the agent's description, a
// "## Tool Notes" section listing per-tool context suffixes, and a
// "## Thinking Structure" block (conversational mode only — suppressed
// when the response itself is the structured output).
func systemPrompt(s *domain.Schema) string {
	var b strings.Builder
	b.WriteString(description(s))

	if ts := tools(s); len(ts) > 0 {
		b.WriteString("\n\n## Tool Notes\n")
		for _, t := range ts {
			if t.Description == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	if !structuredOutput(s) {
		if props := properties(s); len(props) > 0 {
			b.WriteString("\n## Thinking Structure\n")
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&b, "- %s\n", name)
			}
		}
	}
	return b.String()
}

// instructions assembles §4.10 step 2: runtime context that is never
// persisted — date/time, user/session ids, agent name, plus any extra
// sections the request headers supplied.
func instructions(agentName string, tc TurnContext, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Agent: %s\n", agentName)
	fmt.Fprintf(&b, "User: %s\n", tc.UserID)
	fmt.Fprintf(&b, "Session: %s\n", tc.SessionID)

	if len(tc.ExtraSections) > 0 {
		names := make([]string, 0, len(tc.ExtraSections))
		for name := range tc.ExtraSections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n## %s\n%s\n", name, tc.ExtraSections[name])
		}
	}
	return b.String()
}

// history replays prior turns for the session, excluding tool_call/
// tool_response rows, via internal/chatmemory.LoadContext (§4.10 step 3).
func (a *Adapter) history(ctx context.Context, tc TurnContext) ([]llm.Message, error) {
	rows, err := a.chat.LoadContext(ctx, tc.TenantID, tc.SessionID, contextTokenBudget, liveWindowMessages)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(rows))
	for _, r := range rows {
		role := llm.RoleUser
		switch r.MessageType {
		case domain.MessageAssistant:
			role = llm.RoleAssistant
		case domain.MessageSystem:
			role = llm.RoleSystem
		}
		out = append(out, llm.Message{Role: role, Content: r.Content, Name: r.AgentName})
	}
	return out, nil
}
