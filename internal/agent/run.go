package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/percolation-labs/p8k8/internal/chatmemory"
	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/llm"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// Result is one completed turn's observable outcome.
type Result struct {
	Text         string
	Structured   map[string]any
	InputTokens  int64
	OutputTokens int64
	LatencyMS    int64
}

// Run executes one conversational turn for agentName against tc, persisting
// the turn via internal/chatmemory once the model (and any tool calls) have
// finished. userContent is the new user message to append to history.
func (a *Adapter) Run(ctx context.Context, agentName string, tc TurnContext, userContent string) (*Result, error) {
	return a.run(ctx, agentName, tc, userContent, 0)
}

func (a *Adapter) run(ctx context.Context, agentName string, tc TurnContext, userContent string, depth int) (*Result, error) {
	if depth > maxDelegationDepth {
		return nil, perrors.InvalidInput("ask_agent", "delegation depth exceeded")
	}

	s, err := a.schema(ctx, agentName)
	if err != nil {
		return nil, err
	}

	hist, err := a.history(ctx, tc)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(hist)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(s)})
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: instructions(agentName, tc, time.Now())})
	messages = append(messages, hist...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userContent})

	req := llm.ChatRequest{
		Model:       model(s),
		Messages:    messages,
		Tools:       toolSpecs(s),
		Temperature: temperature(s),
	}
	if structuredOutput(s) {
		req.OutputSchema = outputSchema(s)
	}

	start := time.Now()
	events, err := a.client.ChatStream(ctx, req)
	if err != nil {
		return nil, perrors.Internal("chat stream", err)
	}

	var text string
	var structured map[string]any
	var exchanges []chatmemory.ToolExchange
	var inputTokens, outputTokens int64

	for ev := range events {
		switch ev.Type {
		case llm.EventTextDelta:
			text += ev.TextDelta
		case llm.EventStructured:
			structured = ev.Structured
		case llm.EventToolCall:
			exchange, err := a.dispatchToolCall(ctx, tc, depth, ev)
			if err != nil {
				return nil, err
			}
			exchanges = append(exchanges, exchange)
		case llm.EventError:
			return nil, perrors.Internal("chat stream", ev.Err)
		}
		inputTokens += ev.InputTokens
		outputTokens += ev.OutputTokens
	}

	if structured != nil {
		text = jsonMarshalMust(structured)
		if tool := chainedTool(s); tool != "" {
			a.invokeChainedTool(ctx, tc, tool, structured, &exchanges)
		}
	}

	latency := time.Since(start).Milliseconds()
	result, err := a.chat.PersistTurn(ctx, tc.TenantID, chatmemory.TurnInput{
		SessionID:        tc.SessionID,
		UserContent:      userContent,
		AssistantContent: text,
		ToolExchanges:    exchanges,
		Model:            model(s),
		AgentName:        agentName,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		LatencyMS:        latency,
		MomentThreshold:  defaultMomentThreshold,
		Mode:             tc.Mode,
	})
	if err != nil {
		return nil, err
	}
	_ = result

	return &Result{Text: text, Structured: structured, InputTokens: inputTokens, OutputTokens: outputTokens, LatencyMS: latency}, nil
}

// defaultMomentThreshold is the uncovered-token count that triggers
// automatic session_chunk moment building after a turn (§4.6).
const defaultMomentThreshold = 4000

// RunStructured satisfies internal/worker.StructuredAgent: background jobs
// (dreaming phase 2, news, reading_summary) call an agent outside any chat
// session, supplying their own context payload instead of replayed
// history, and decode the model's structured response into v.
func (a *Adapter) RunStructured(ctx context.Context, agentName string, contextPayload map[string]any, v any) error {
	s, err := a.schema(ctx, agentName)
	if err != nil {
		return err
	}
	if !structuredOutput(s) {
		return perrors.InvalidInput("agent_name", agentName+" is not configured for structured output")
	}

	req := llm.ChatRequest{
		Model:        model(s),
		Temperature:  temperature(s),
		OutputSchema: outputSchema(s),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt(s)},
			{Role: llm.RoleUser, Content: jsonMarshalMust(contextPayload)},
		},
	}

	events, err := a.client.ChatStream(ctx, req)
	if err != nil {
		return perrors.Internal("chat stream", err)
	}

	var structured map[string]any
	for ev := range events {
		switch ev.Type {
		case llm.EventStructured:
			structured = ev.Structured
		case llm.EventError:
			return perrors.Internal("chat stream", ev.Err)
		}
	}
	if structured == nil {
		return perrors.Internal("chat stream", errNoStructuredOutput)
	}

	raw, err := json.Marshal(structured)
	if err != nil {
		return perrors.Internal("marshal structured output", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return perrors.Internal("decode structured output", err)
	}
	return nil
}

var errNoStructuredOutput = perrors.New(perrors.CodeInternal, "model stream ended without a structured_output event")

func toolSpecs(s *domain.Schema) []llm.ToolSpec {
	ts := tools(s)
	out := make([]llm.ToolSpec, 0, len(ts)+1)
	out = append(out, llm.ToolSpec{Name: "ask_agent", Description: "Delegate to a named child agent."})
	for _, t := range ts {
		out = append(out, llm.ToolSpec{Name: t.Name, Description: t.Description})
	}
	return out
}

func jsonMarshalMust(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
