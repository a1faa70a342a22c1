// Package bridge wires a language model to MCP tool providers and drives
// each user message through the model-tool loop to a final answer.
//
// A Bridge owns one protocol session per configured peer process and one
// tool directory aggregating their advertised tools. ProcessMessage runs a
// single turn: while the model requests tool calls, the bridge dispatches
// them, feeds the results back, and re-invokes the model, guarded by a
// repetition check and an iteration ceiling.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/probichaux/ollama-mcp-bridge/core/protocol"
	"github.com/probichaux/ollama-mcp-bridge/llm"
	"github.com/probichaux/ollama-mcp-bridge/mcp"
	"github.com/probichaux/ollama-mcp-bridge/observability"
	"github.com/probichaux/ollama-mcp-bridge/tools"
)

// Option configures a Bridge after config-driven initialization. Applied by
// New after the cold start; overrides replace config-created defaults.
type Option func(*Bridge)

// WithClient overrides the config-created model client.
func WithClient(c llm.Client) Option {
	return func(b *Bridge) { b.client = c }
}

// WithDirectory overrides the config-created tool directory.
func WithDirectory(d *tools.Directory) Option {
	return func(b *Bridge) { b.directory = d }
}

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(b *Bridge) { b.observer = observability.OrNoOp(o) }
}

// Bridge connects one model client to the tool directory built from every
// configured MCP peer.
type Bridge struct {
	client        llm.Client
	directory     *tools.Directory
	sessions      []*mcp.Session
	observer      observability.Observer
	maxIterations int
	systemPrompt  string
	toolTimeout   time.Duration
}

// New creates a Bridge from configuration, applies options, and then
// connects every configured MCP server: each successful session's tools are
// enumerated and registered in the directory. A server that fails to
// initialize is skipped with a recorded diagnostic so the bridge continues
// with a reduced tool set; New fails only when servers were configured and
// none came up.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Bridge, error) {
	toolTimeout := time.Duration(cfg.ToolTimeoutSeconds) * time.Second
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeoutSeconds * time.Second
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	b := &Bridge{
		client:        llm.NewOllamaClient(cfg.LLM),
		directory:     tools.NewDirectory(),
		observer:      observability.NoOpObserver{},
		maxIterations: maxIterations,
		systemPrompt:  cfg.SystemPrompt,
		toolTimeout:   toolTimeout,
	}

	for _, opt := range opts {
		opt(b)
	}

	if err := b.connectServers(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

func (b *Bridge) connectServers(ctx context.Context, cfg *Config) error {
	if len(cfg.MCPServers) == 0 {
		return nil
	}

	var lastErr error
	for name, serverCfg := range cfg.MCPServers {
		serverCfg.Name = name
		session := mcp.NewSession(serverCfg, b.observer)

		if err := b.addSession(ctx, session); err != nil {
			lastErr = err
			b.observer.OnEvent(ctx, observability.Event{
				Type:      EventServerFailed,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "bridge.New",
				Data:      map[string]any{"server": name, "error": err.Error()},
			})
			continue
		}
	}

	if len(b.sessions) == 0 {
		return fmt.Errorf("no MCP server could be initialized: %w", lastErr)
	}
	return nil
}

// addSession connects a session, enumerates its tools, and registers them.
func (b *Bridge) addSession(ctx context.Context, session *mcp.Session) error {
	if err := session.Connect(ctx); err != nil {
		return err
	}

	descriptors, err := session.ListTools(ctx)
	if err != nil {
		session.Close()
		return err
	}

	for _, descriptor := range descriptors {
		if err := b.directory.Register(protocol.Tool{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			Parameters:  descriptor.InputSchema,
		}, session); err != nil {
			session.Close()
			return err
		}
	}

	b.sessions = append(b.sessions, session)

	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventServerConnected,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "bridge.New",
		Data:      map[string]any{"server": session.Name(), "tools": len(descriptors)},
	})
	return nil
}

// SetTools rebuilds the directory wholesale from an externally supplied tool
// list, all owned by the given invoker. Tools sourced from live sessions are
// preserved only if re-registered explicitly afterward.
func (b *Bridge) SetTools(descriptors []protocol.Tool, owner tools.Invoker) error {
	return b.directory.Rebuild(descriptors, owner)
}

// Tools returns the directory's flattened tool list, sorted by name.
func (b *Bridge) Tools() []protocol.Tool {
	return b.directory.List()
}

// OwnerOf reports which invoker serves the named tool.
func (b *Bridge) OwnerOf(name string) (tools.Invoker, bool) {
	return b.directory.OwnerOf(name)
}

// Sessions returns the connected protocol sessions.
func (b *Bridge) Sessions() []*mcp.Session {
	return b.sessions
}

// Close tears down every session. Idempotent.
func (b *Bridge) Close() error {
	var firstErr error
	for _, session := range b.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
