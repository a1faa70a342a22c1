package protocol

// Tool defines a function the model may call. Parameters is the JSON Schema
// for the function's input; for tools sourced from an MCP peer it is the
// peer's inputSchema passed through unchanged.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
