// Package mcp implements the client side of the Model Context Protocol over
// a child process's standard streams: a newline-delimited JSON transport, a
// correlation table matching responses to requests, and a protocol session
// that performs the handshake and the tools/list and tools/call operations.
package mcp

import (
	"encoding/json"
	"fmt"
)

const (
	// jsonRPCVersion is the fixed version tag on every message.
	jsonRPCVersion = "2.0"

	// protocolVersion is the MCP revision advertised during initialize.
	protocolVersion = "2024-11-05"

	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodListTools   = "tools/list"
	methodCallTool    = "tools/call"
)

// request is an outbound JSON-RPC request expecting a correlated response.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// notification is an outbound fire-and-forget message. It carries no id and
// bypasses the correlation table.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// incoming is any decoded inbound message. A message with a non-nil ID and no
// Method is a response; a message with a Method is a server-initiated request
// or notification.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

func (m *incoming) isResponse() bool {
	return m.ID != nil && m.Method == ""
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("peer error %d: %s", e.Code, e.Message)
}

// Implementation names one side of the handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// initializeResult holds the peer's handshake response. ProtocolVersion is
// decoded untyped so its shape can be validated: the handshake fails unless
// it is present and a string.
type initializeResult struct {
	ProtocolVersion any             `json:"protocolVersion"`
	Capabilities    map[string]any  `json:"capabilities,omitempty"`
	ServerInfo      *Implementation `json:"serverInfo,omitempty"`
}

// Tool is a tool descriptor advertised by a peer. InputSchema is the JSON
// Schema for the tool's arguments, passed through unchanged.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
