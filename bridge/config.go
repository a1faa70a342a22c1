package bridge

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/probichaux/ollama-mcp-bridge/llm"
	"github.com/probichaux/ollama-mcp-bridge/mcp"
)

const (
	// defaultMaxIterations bounds the tool-dispatch rounds in one turn.
	defaultMaxIterations = 3

	// defaultToolTimeoutSeconds bounds each individual tool call.
	defaultToolTimeoutSeconds = 30
)

// Config holds initialization parameters for the bridge: the model client,
// the tool-providing peer processes, and the turn loop's bounds.
type Config struct {
	LLM                llm.Config                   `json:"llm"`
	MCPServers         map[string]mcp.SessionConfig `json:"mcpServers,omitempty"`
	MaxIterations      int                          `json:"max_iterations,omitempty"`
	SystemPrompt       string                       `json:"system_prompt,omitempty"`
	ToolTimeoutSeconds int                          `json:"tool_timeout_seconds,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults and no peers.
func DefaultConfig() Config {
	return Config{
		LLM:                llm.DefaultConfig(),
		MaxIterations:      defaultMaxIterations,
		ToolTimeoutSeconds: defaultToolTimeoutSeconds,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	c.LLM.Merge(&source.LLM)

	if source.MaxIterations > 0 {
		c.MaxIterations = source.MaxIterations
	}
	if source.SystemPrompt != "" {
		c.SystemPrompt = source.SystemPrompt
	}
	if source.ToolTimeoutSeconds > 0 {
		c.ToolTimeoutSeconds = source.ToolTimeoutSeconds
	}
	if len(source.MCPServers) > 0 {
		c.MCPServers = source.MCPServers
	}
}

// LoadConfig reads a JSONC config file (JSON extended with comments and
// trailing commas), merges it over defaults, and returns the result.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &loaded); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
