package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/probichaux/ollama-mcp-bridge/observability"
)

// DefaultTimeout bounds every correlated request, protocol and tool call
// alike. A caller-level context deadline races it; the shorter wins.
const DefaultTimeout = 30 * time.Second

type sessionState int

const (
	stateUnconnected sessionState = iota
	stateConnecting
	stateInitialized
	stateClosed
)

// SessionConfig describes one tool-providing peer process.
type SessionConfig struct {
	// Name labels the session in events and the tool directory.
	Name string `json:"-"`

	// Command and Args spawn the peer process.
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`

	// Env entries are added to the peer's environment.
	Env map[string]string `json:"env,omitempty"`

	// Timeout bounds each correlated request. Zero means DefaultTimeout.
	Timeout time.Duration `json:"-"`
}

// SessionOption overrides a config-created default, for tests.
type SessionOption func(*Session)

// WithTransport overrides the stdio transport created from the config.
func WithTransport(t Transport) SessionOption {
	return func(s *Session) {
		s.newTransport = func() Transport { return t }
	}
}

// Session is one logical connection to one tool-providing peer. It owns its
// transport, correlation table, and id counter; sessions for different peers
// are fully independent.
type Session struct {
	name string

	// newTransport builds the transport for one Connect attempt. A closed
	// stdio transport cannot be restarted, so each attempt gets a fresh one.
	newTransport func() Transport
	transport    Transport

	pending  *pendingTable
	observer observability.Observer
	timeout  time.Duration

	nextID atomic.Int64

	mu         sync.Mutex
	state      sessionState
	knownTools map[string]struct{}
	serverInfo Implementation
}

// NewSession creates a session for the given peer. It does not spawn the
// process; call Connect. A nil observer discards diagnostics.
func NewSession(cfg SessionConfig, observer observability.Observer, opts ...SessionOption) *Session {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := &Session{
		name: cfg.Name,
		newTransport: func() Transport {
			return NewStdioTransport(cfg.Command, cfg.Args, cfg.Env, observer)
		},
		pending:    newPendingTable(),
		observer:   observability.OrNoOp(observer),
		timeout:    timeout,
		knownTools: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the session's configured label.
func (s *Session) Name() string {
	return s.name
}

// Connect spawns the transport and performs the handshake: send initialize,
// validate the response, acknowledge with the initialized notification. On
// any failure the transport is torn down and the session returns to its
// unconnected state with no partial state retained.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.name, ErrClosed)
	case stateConnecting, stateInitialized:
		s.mu.Unlock()
		return fmt.Errorf("session %s: already connected", s.name)
	}
	s.state = stateConnecting
	s.transport = s.newTransport()
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.transport.Close()
		s.mu.Lock()
		s.state = stateUnconnected
		s.transport = nil
		s.knownTools = make(map[string]struct{})
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.state = stateInitialized
	s.mu.Unlock()
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	if err := s.transport.Start(ctx, s.handleMessage); err != nil {
		return fmt.Errorf("session %s: %w", s.name, err)
	}

	raw, err := s.call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: Implementation{
			Name:    "ollama-mcp-bridge",
			Version: "1.0.0",
		},
	})
	if err != nil {
		return fmt.Errorf("session %s: initialize: %w", s.name, err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("%w: session %s: initialize result: %v", ErrProtocol, s.name, err)
	}

	version, ok := result.ProtocolVersion.(string)
	if !ok || version == "" {
		return fmt.Errorf("%w: session %s: initialize result missing string protocolVersion", ErrProtocol, s.name)
	}

	if err := s.notify(methodInitialized, nil); err != nil {
		return fmt.Errorf("session %s: initialized notification: %w", s.name, err)
	}

	s.mu.Lock()
	if result.ServerInfo != nil {
		s.serverInfo = *result.ServerInfo
	}
	s.mu.Unlock()

	data := map[string]any{
		"session":          s.name,
		"protocol_version": version,
	}
	if result.ServerInfo != nil {
		data["server_name"] = result.ServerInfo.Name
		data["server_version"] = result.ServerInfo.Version
	}
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventInitialized,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "mcp.Session",
		Data:      data,
	})
	return nil
}

// ServerInfo returns the peer's implementation details from the handshake.
// Zero value before a successful Connect.
func (s *Session) ServerInfo() Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// ListTools returns the peer's advertised tool descriptors and refreshes the
// session's cached set of known tool names. An absent tools field in the
// response is an empty list, not an error.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}

	raw, err := s.call(ctx, methodListTools, struct{}{})
	if err != nil {
		return nil, fmt.Errorf("session %s: tools/list: %w", s.name, err)
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: session %s: tools/list result: %v", ErrProtocol, s.name, err)
	}

	s.mu.Lock()
	s.knownTools = make(map[string]struct{}, len(result.Tools))
	for _, tool := range result.Tools {
		s.knownTools[tool.Name] = struct{}{}
	}
	s.mu.Unlock()

	return result.Tools, nil
}

// CallTool invokes a tool on the peer and returns its result payload
// unchanged. A name missing from the cached known-tools set is advisory, not
// blocking: peers may add tools dynamically, so the call proceeds with a
// recorded diagnostic.
func (s *Session) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, known := s.knownTools[name]
	s.mu.Unlock()

	if !known {
		s.observer.OnEvent(ctx, observability.Event{
			Type:      EventUnknownTool,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "mcp.Session",
			Data:      map[string]any{"session": s.name, "tool": name},
		})
	}

	raw, err := s.call(ctx, methodCallTool, callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("session %s: tools/call %s: %w", s.name, name, err)
	}
	return raw, nil
}

// Close tears down the transport and fails every outstanding request.
// Idempotent; any operation after Close fails with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	transport := s.transport
	s.mu.Unlock()

	var err error
	if transport != nil {
		err = transport.Close()
	}
	s.pending.failAll(fmt.Errorf("session %s: %w", s.name, ErrClosed))
	return err
}

func (s *Session) requireInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateInitialized:
		return nil
	case stateClosed:
		return fmt.Errorf("session %s: %w", s.name, ErrClosed)
	default:
		return fmt.Errorf("session %s: %w", s.name, ErrNotInitialized)
	}
}

// call sends a correlated request and waits for its response, the table's
// timeout, or ctx, whichever settles first. An abandoned request's late
// response is discarded by the table.
func (s *Session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ch := s.pending.register(id, s.timeout)

	err := s.transport.Send(request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		s.pending.fail(id, err)
		return nil, err
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// notify sends a fire-and-forget message. It resolves as soon as the write
// succeeds; no correlation entry is created.
func (s *Session) notify(method string, params any) error {
	return s.transport.Send(notification{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
	})
}

// handleMessage is the transport's inbound callback. Responses settle their
// pending entry; anything else is surfaced as a diagnostic and dropped.
func (s *Session) handleMessage(raw json.RawMessage) {
	var msg incoming
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.observer.OnEvent(context.Background(), observability.Event{
			Type:      EventDecodeError,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "mcp.Session",
			Data:      map[string]any{"session": s.name, "error": err.Error()},
		})
		return
	}

	if msg.isResponse() {
		if !s.pending.complete(*msg.ID, msg.Error, msg.Result) {
			// Late or duplicate response, or an id we never issued. The
			// requester may already have timed out; drop it.
			s.observer.OnEvent(context.Background(), observability.Event{
				Type:      EventResponseDiscarded,
				Level:     observability.LevelVerbose,
				Timestamp: time.Now(),
				Source:    "mcp.Session",
				Data:      map[string]any{"session": s.name, "id": *msg.ID},
			})
		}
		return
	}

	// Server-initiated requests and notifications are out of scope for the
	// bridge; record and ignore.
	s.observer.OnEvent(context.Background(), observability.Event{
		Type:      EventPeerMessage,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "mcp.Session",
		Data:      map[string]any{"session": s.name, "method": msg.Method},
	})
}
