package mcp

import "github.com/probichaux/ollama-mcp-bridge/observability"

// Event types emitted by the transport and session.
const (
	EventDecodeError       observability.EventType = "mcp.decode.error"
	EventStderrLine        observability.EventType = "mcp.stderr"
	EventProcessExit       observability.EventType = "mcp.process.exit"
	EventResponseDiscarded observability.EventType = "mcp.response.discarded"
	EventPeerMessage       observability.EventType = "mcp.peer.message"
	EventInitialized       observability.EventType = "mcp.session.initialized"
	EventUnknownTool       observability.EventType = "mcp.tool.unknown"
)
