// Package protocol defines the conversation data model shared by the model
// client and the bridge loop: roles, messages, tool calls, and tool
// definitions in the function-calling wire shape.
package protocol

import "encoding/json"

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the model. Fields are
// flat (ID, Name, Arguments) for direct use across the bridge; Arguments is
// the raw JSON argument object as text, exactly as the model produced it.
//
// The JSON form is the nested function-calling shape
// ({id, type, function: {name, arguments}}); UnmarshalJSON also accepts the
// flat form so recorded calls round-trip.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// MarshalJSON serializes to the nested function-calling format expected by
// chat APIs.
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	type function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
	return json.Marshal(struct {
		ID       string   `json:"id"`
		Type     string   `json:"type"`
		Function function `json:"function"`
	}{
		ID:   tc.ID,
		Type: "function",
		Function: function{
			Name:      tc.Name,
			Arguments: tc.Arguments,
		},
	})
}

// UnmarshalJSON accepts both the nested function-calling format and the flat
// form. Some backends serialize function.arguments as a JSON object rather
// than a string; both are normalized to text.
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var nested struct {
		ID       string `json:"id"`
		Function struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &nested); err != nil {
		return err
	}

	if nested.Function.Name != "" {
		tc.ID = nested.ID
		tc.Name = nested.Function.Name
		tc.Arguments = rawArgumentText(nested.Function.Arguments)
		return nil
	}

	type plain ToolCall
	return json.Unmarshal(data, (*plain)(tc))
}

// rawArgumentText converts a raw arguments value to text. A JSON string is
// unquoted (the OpenAI shape); any other value is kept verbatim (the Ollama
// shape, where arguments is an object).
func rawArgumentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// Message is a single entry in a conversation. Assistant messages may carry
// ToolCalls; tool result messages carry the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// NewMessage creates a Message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}
