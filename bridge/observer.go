package bridge

import "github.com/probichaux/ollama-mcp-bridge/observability"

// Bridge event types emitted during initialization and the turn loop.
const (
	EventServerConnected observability.EventType = "bridge.server.connected"
	EventServerFailed    observability.EventType = "bridge.server.failed"
	EventTurnStart       observability.EventType = "bridge.turn.start"
	EventTurnComplete    observability.EventType = "bridge.turn.complete"
	EventIterationStart  observability.EventType = "bridge.iteration.start"
	EventToolDispatch    observability.EventType = "bridge.tool.dispatch"
	EventToolComplete    observability.EventType = "bridge.tool.complete"
	EventRepeatDetected  observability.EventType = "bridge.repeat.detected"
	EventForcedAnswer    observability.EventType = "bridge.forced.answer"
	EventTurnError       observability.EventType = "bridge.turn.error"
)
