package mcp

import "errors"

// Sentinel errors for the MCP client. Callers classify failures with
// errors.Is; wrapped messages carry the session and method context.
var (
	// ErrConnection covers process spawn and pipe failures.
	ErrConnection = errors.New("mcp: connection failed")

	// ErrProtocol covers malformed or semantically invalid handshake and
	// response payloads.
	ErrProtocol = errors.New("mcp: protocol error")

	// ErrTimeout is returned when a request receives no response within its
	// deadline. The pending entry is evicted; a late response is discarded.
	ErrTimeout = errors.New("mcp: request timed out")

	// ErrWrite is returned by Send when the peer's input stream is closed or
	// the process has exited. Callers must treat it as connection loss.
	ErrWrite = errors.New("mcp: write failed")

	// ErrClosed is returned by any operation on a closed session.
	ErrClosed = errors.New("mcp: session closed")

	// ErrNotInitialized is returned by operations that require a completed
	// handshake.
	ErrNotInitialized = errors.New("mcp: session not initialized")
)
