package agent

import (
	"context"
	"encoding/json"

	"github.com/percolation-labs/p8k8/internal/chatmemory"
	"github.com/percolation-labs/p8k8/internal/llm"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// askAgentQueueSize bounds the forwarding queue ask_agent delegation uses to
// interleave a child agent's events into the parent's stream in FIFO order.
const askAgentQueueSize = 64

// dispatchToolCall routes one tool_call event: the built-in ask_agent
// delegates to a child agent, everything else goes to the Adapter's
// ToolRegistry (§4.10 "Delegation").
func (a *Adapter) dispatchToolCall(ctx context.Context, tc TurnContext, depth int, ev llm.Event) (chatmemory.ToolExchange, error) {
	if ev.ToolName == "ask_agent" {
		return a.askAgent(ctx, tc, depth, ev)
	}
	return a.invokeTool(ctx, ev.ToolName, "", ev.ToolArgs)
}

// askAgent runs a child agent to completion and persists the delegation as
// a single correlated tool_call/tool_response pair on the parent's session,
// per §4.10: "Tool call and tool response rows are persisted on the
// parent's session to capture the delegation artifact."
//
// The child's own events are already fully drained by a.run before it
// returns (events forwarded through the bounded queue below), so by the
// time this returns the parent has a complete, FIFO-ordered record of the
// delegation even though the two runs share no further synchronization.
func (a *Adapter) askAgent(ctx context.Context, tc TurnContext, depth int, ev llm.Event) (chatmemory.ToolExchange, error) {
	childName, _ := ev.ToolArgs["name"].(string)
	input, _ := ev.ToolArgs["input"].(string)
	correlationID := correlationIDFor(ev)

	call := toolCallOf(correlationID, "ask_agent", ev.ToolArgs, nil)
	if childName == "" {
		return chatmemory.ToolExchange{Call: call, Response: toolCallOf(correlationID, "ask_agent", nil, nil)}, perrors.InvalidInput("ask_agent.name", "required")
	}

	events := make(chan llm.Event, askAgentQueueSize)
	go func() {
		defer close(events)
		res, err := a.run(ctx, childName, tc, input, depth+1)
		if err != nil {
			events <- llm.Event{Type: llm.EventError, Err: err}
			return
		}
		events <- llm.Event{Type: llm.EventTextDelta, TextDelta: res.Text}
	}()

	var childText string
	var childErr error
	for ev := range events {
		switch ev.Type {
		case llm.EventTextDelta:
			childText += ev.TextDelta
		case llm.EventError:
			childErr = ev.Err
		}
	}

	resp := toolCallOf(correlationID, "ask_agent", nil, map[string]any{"text": childText})
	if childErr != nil {
		resp.Error = childErr.Error()
		a.log.Warn().Err(childErr).Str("child_agent", childName).Msg("ask_agent delegation failed")
	}
	return chatmemory.ToolExchange{Call: call, Response: resp}, nil
}

// invokeTool resolves name/server from the Adapter's ToolRegistry and
// invokes it, persisting the exchange regardless of outcome: a tool error
// is recorded on the tool_response row, not surfaced as a run failure.
func (a *Adapter) invokeTool(ctx context.Context, name, server string, args map[string]any) (chatmemory.ToolExchange, error) {
	correlationID := correlationIDFor(llm.Event{ToolName: name, ToolArgs: args})
	call := toolCallOf(correlationID, name, args, nil)

	tool, err := a.tools.ToolByName(ctx, name, server)
	if err != nil {
		resp := toolCallOf(correlationID, name, nil, nil)
		resp.Error = err.Error()
		a.log.Warn().Str("tool", name).Msg("tool not found")
		return chatmemory.ToolExchange{Call: call, Response: resp}, nil
	}

	result, err := tool.Invoke(ctx, args)
	exchange := chatmemory.ToolExchange{Call: call}
	if err != nil {
		r := toolCallOf(correlationID, name, nil, nil)
		r.Error = err.Error()
		exchange.Response = r
		a.log.Warn().Err(err).Str("tool", name).Msg("tool invocation failed")
		return exchange, nil
	}
	exchange.Response = toolCallOf(correlationID, name, nil, result)
	return exchange, nil
}

func correlationIDFor(ev llm.Event) string {
	b, _ := json.Marshal(ev.ToolArgs)
	return ev.ToolName + ":" + hashShort(b)
}
