package agent

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/percolation-labs/p8k8/internal/domain"
)

func toolCallOf(correlationID, name string, args, result map[string]any) domain.ToolCall {
	return domain.ToolCall{CorrelationID: correlationID, Name: name, Arguments: args, Result: result}
}

// hashShort returns an 8-hex-char digest (the first 4 bytes of the SHA-256
// of b). It is deterministic: equal inputs always give the same digest.
func hashShort(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:4])
}
