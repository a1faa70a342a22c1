package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/probichaux/ollama-mcp-bridge/core/protocol"
)

const (
	// DefaultBaseURL is the local Ollama API endpoint.
	DefaultBaseURL = "http://127.0.0.1:11434"

	// DefaultModel is used when the config names none.
	DefaultModel = "llama3.2:3b"

	defaultRequestTimeout = 120 * time.Second
)

// Config holds Ollama connection settings.
type Config struct {
	BaseURL        string `json:"base_url,omitempty"`
	Model          string `json:"model,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// DefaultConfig returns a Config pointing at a local Ollama instance.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.Model != "" {
		c.Model = source.Model
	}
	if source.TimeoutSeconds > 0 {
		c.TimeoutSeconds = source.TimeoutSeconds
	}
}

// OllamaClient talks to the Ollama /api/chat endpoint with function-calling
// tools, non-streaming.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates a client from config, filling defaults for any
// unset field.
func NewOllamaClient(cfg Config) *OllamaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := defaultRequestTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model    string             `json:"model"`
	Messages []protocol.Message `json:"messages"`
	Stream   bool               `json:"stream"`
	Tools    []chatTool         `json:"tools,omitempty"`
}

type chatTool struct {
	Type     string        `json:"type"`
	Function protocol.Tool `json:"function"`
}

// chatResponse is the /api/chat response body. Tool call arguments arrive as
// JSON objects; protocol.ToolCall normalizes them to text.
type chatResponse struct {
	Message struct {
		Role      string              `json:"role"`
		Content   string              `json:"content"`
		ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Chat sends the conversation and tool definitions to Ollama and returns the
// model's reply. Tool calls missing an id are assigned one, so results can
// be correlated back in the transcript.
func (c *OllamaClient) Chat(ctx context.Context, messages []protocol.Message, toolDefs []protocol.Tool) (*Reply, error) {
	body := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	}
	for _, def := range toolDefs {
		body.Tools = append(body.Tools, chatTool{Type: "function", Function: def})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, excerpt(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", parsed.Error)
	}

	reply := &Reply{
		Content:   parsed.Message.Content,
		ToolCalls: parsed.Message.ToolCalls,
	}
	for i := range reply.ToolCalls {
		if reply.ToolCalls[i].ID == "" {
			reply.ToolCalls[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}
	return reply, nil
}

func excerpt(data []byte) string {
	const max = 300
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
