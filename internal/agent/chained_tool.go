package agent

import (
	"context"

	"github.com/percolation-labs/p8k8/internal/chatmemory"
)

// invokeChainedTool implements §4.10's "Chained tool": when
// structured_output is set and the schema names a chained_tool, invoke it
// directly (same process) with the structured object as arguments once the
// agent's structured response is produced. Both the synthetic tool_call
// and tool_response rows are appended to exchanges for persistence.
//
// Missing tool -> warn and leave the original output untouched. Tool
// error -> log and leave the original output untouched. Neither case fails
// the run; the chained tool is a side effect, not part of the contract the
// caller is waiting on.
func (a *Adapter) invokeChainedTool(ctx context.Context, tc TurnContext, toolName string, structured map[string]any, exchanges *[]chatmemory.ToolExchange) {
	exchange, err := a.invokeTool(ctx, toolName, "", structured)
	if err != nil {
		a.log.Warn().Err(err).Str("chained_tool", toolName).Msg("chained tool invocation failed")
		return
	}
	*exchanges = append(*exchanges, exchange)
}
