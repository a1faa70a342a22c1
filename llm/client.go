// Package llm provides the model-client side of the bridge: a small Chat
// interface the orchestration loop talks to, and an Ollama implementation.
package llm

import (
	"context"

	"github.com/probichaux/ollama-mcp-bridge/core/protocol"
)

// Reply is one model response: either final text content or a batch of
// requested tool calls.
type Reply struct {
	Content   string
	ToolCalls []protocol.ToolCall
}

// IsToolCall reports whether the model requested tool invocations instead of
// producing a final answer.
func (r *Reply) IsToolCall() bool {
	return len(r.ToolCalls) > 0
}

// Client sends a conversation to a model and returns its reply. The bridge
// loop depends only on this interface; tests substitute scripted clients.
type Client interface {
	Chat(ctx context.Context, messages []protocol.Message, tools []protocol.Tool) (*Reply, error)
}
