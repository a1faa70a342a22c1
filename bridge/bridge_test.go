package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/probichaux/ollama-mcp-bridge/bridge"
	"github.com/probichaux/ollama-mcp-bridge/core/protocol"
	"github.com/probichaux/ollama-mcp-bridge/llm"
	"github.com/probichaux/ollama-mcp-bridge/tools"
)

// chatCapture snapshots one model invocation.
type chatCapture struct {
	messages []protocol.Message
	tools    []protocol.Tool
}

// scriptedClient plays back a fixed sequence of replies and records every
// invocation for assertion.
type scriptedClient struct {
	mu      sync.Mutex
	replies []*llm.Reply
	calls   []chatCapture
	err     error
	panicOn int // 1-based call index that panics, 0 for never
}

func (c *scriptedClient) Chat(_ context.Context, messages []protocol.Message, defs []protocol.Tool) (*llm.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, chatCapture{
		messages: append([]protocol.Message(nil), messages...),
		tools:    append([]protocol.Tool(nil), defs...),
	})

	if c.panicOn > 0 && len(c.calls) == c.panicOn {
		panic("scripted panic")
	}
	if c.err != nil {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return &llm.Reply{Content: "script exhausted"}, nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

func (c *scriptedClient) captured() []chatCapture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chatCapture(nil), c.calls...)
}

// fakeInvoker serves tool calls from a function, counting dispatches.
type fakeInvoker struct {
	name       string
	mu         sync.Mutex
	dispatched int
	fn         func(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
}

func (f *fakeInvoker) Name() string { return f.name }

func (f *fakeInvoker) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.dispatched++
	f.mu.Unlock()
	if f.fn == nil {
		return textResult("ok"), nil
	}
	return f.fn(ctx, name, arguments)
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatched
}

func textResult(text string) json.RawMessage {
	payload, _ := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	})
	return payload
}

func toolCallReply(calls ...protocol.ToolCall) *llm.Reply {
	return &llm.Reply{ToolCalls: calls}
}

func newTestBridge(t *testing.T, cfg bridge.Config, client llm.Client, descriptors ...protocol.Tool) (*bridge.Bridge, *fakeInvoker) {
	t.Helper()

	invoker := &fakeInvoker{name: "fake"}
	directory := tools.NewDirectory()
	for _, descriptor := range descriptors {
		if err := directory.Register(descriptor, invoker); err != nil {
			t.Fatalf("Register(%q) failed: %v", descriptor.Name, err)
		}
	}

	b, err := bridge.New(context.Background(), &cfg,
		bridge.WithClient(client),
		bridge.WithDirectory(directory),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, invoker
}

func TestRunDirectAnswer(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{{Content: "the answer is 4"}}}
	b, invoker := newTestBridge(t, bridge.Config{}, client, protocol.Tool{Name: "calc"})

	result, err := b.Run(context.Background(), "what is 2+2?")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Response != "the answer is 4" {
		t.Errorf("Response = %q, want %q", result.Response, "the answer is 4")
	}
	if result.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", result.Iterations)
	}
	if invoker.count() != 0 {
		t.Errorf("invoker dispatched %d times, want 0", invoker.count())
	}

	calls := client.captured()
	if len(calls) != 1 {
		t.Fatalf("model invoked %d times, want 1", len(calls))
	}
	if len(calls[0].tools) != 1 || calls[0].tools[0].Name != "calc" {
		t.Errorf("model offered tools %v, want [calc]", calls[0].tools)
	}
	last := calls[0].messages[len(calls[0].messages)-1]
	if last.Role != protocol.RoleUser || last.Content != "what is 2+2?" {
		t.Errorf("final message = %+v, want the user question", last)
	}
}

func TestRunSingleToolRound(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{
		toolCallReply(protocol.ToolCall{ID: "c1", Name: "lookup", Arguments: `{"key":"x"}`}),
		{Content: "x is 7"},
	}}
	b, invoker := newTestBridge(t, bridge.Config{}, client, protocol.Tool{Name: "lookup"})

	invoker.fn = func(_ context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
		if name != "lookup" {
			t.Errorf("dispatched name = %q, want lookup", name)
		}
		if string(arguments) != `{"key":"x"}` {
			t.Errorf("dispatched arguments = %s", arguments)
		}
		return textResult("value: 7"), nil
	}

	result, err := b.Run(context.Background(), "what is x?")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Response != "x is 7" {
		t.Errorf("Response = %q", result.Response)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d records, want 1", len(result.ToolCalls))
	}
	record := result.ToolCalls[0]
	if record.Name != "lookup" || record.Result != "value: 7" || record.IsError {
		t.Errorf("record = %+v", record)
	}

	calls := client.captured()
	if len(calls) != 2 {
		t.Fatalf("model invoked %d times, want 2", len(calls))
	}
	var toolMessage *protocol.Message
	for i := range calls[1].messages {
		if calls[1].messages[i].Role == protocol.RoleTool {
			toolMessage = &calls[1].messages[i]
		}
	}
	if toolMessage == nil {
		t.Fatal("no tool message fed back to the model")
	}
	if toolMessage.Content != "value: 7" || toolMessage.ToolCallID != "c1" {
		t.Errorf("tool message = %+v", toolMessage)
	}
}

func TestRunRepeatSignatureForcesFinal(t *testing.T) {
	repeated := protocol.ToolCall{ID: "c1", Name: "lookup", Arguments: `{"key":"x"}`}
	client := &scriptedClient{replies: []*llm.Reply{
		toolCallReply(repeated),
		toolCallReply(protocol.ToolCall{ID: "c2", Name: "lookup", Arguments: `{"key":"x"}`}),
		{Content: "forced: x is 7"},
	}}
	b, invoker := newTestBridge(t, bridge.Config{}, client, protocol.Tool{Name: "lookup"})
	invoker.fn = func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		return textResult("value: 7"), nil
	}

	result, err := b.Run(context.Background(), "what is x?")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Response != "forced: x is 7" {
		t.Errorf("Response = %q", result.Response)
	}
	if invoker.count() != 1 {
		t.Errorf("invoker dispatched %d times, want 1 (repeat must not re-dispatch)", invoker.count())
	}

	calls := client.captured()
	if len(calls) != 3 {
		t.Fatalf("model invoked %d times, want 3", len(calls))
	}
	forced := calls[2]
	if len(forced.tools) != 0 {
		t.Errorf("forced call offered %d tools, want none", len(forced.tools))
	}
	prompt := forced.messages[len(forced.messages)-1].Content
	if !strings.Contains(prompt, "value: 7") {
		t.Errorf("forcing prompt missing the tool result: %q", prompt)
	}
	if !strings.Contains(prompt, "what is x?") {
		t.Errorf("forcing prompt missing the original question: %q", prompt)
	}
}

func TestRunCeilingForcesFinal(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{
		toolCallReply(protocol.ToolCall{ID: "c1", Name: "step", Arguments: `{"n":1}`}),
		toolCallReply(protocol.ToolCall{ID: "c2", Name: "step", Arguments: `{"n":2}`}),
		toolCallReply(protocol.ToolCall{ID: "c3", Name: "step", Arguments: `{"n":3}`}),
		toolCallReply(protocol.ToolCall{ID: "c4", Name: "step", Arguments: `{"n":4}`}),
		{Content: "forced final"},
	}}
	b, invoker := newTestBridge(t, bridge.Config{}, client, protocol.Tool{Name: "step"})

	result, err := b.Run(context.Background(), "keep going")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Response != "forced final" {
		t.Errorf("Response = %q", result.Response)
	}
	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", result.Iterations)
	}
	if invoker.count() != 3 {
		t.Errorf("invoker dispatched %d times, want 3", invoker.count())
	}

	calls := client.captured()
	if len(calls) != 5 {
		t.Fatalf("model invoked %d times, want 5", len(calls))
	}

	// The call after the final permitted round carries the forcing
	// instruction.
	var sawInstruction bool
	for _, m := range calls[3].messages {
		if m.Role == protocol.RoleSystem && strings.Contains(m.Content, "Do not request any more tool calls") {
			sawInstruction = true
		}
	}
	if !sawInstruction {
		t.Error("no forcing instruction before the last model call")
	}
	if len(calls[4].tools) != 0 {
		t.Errorf("forced call offered %d tools, want none", len(calls[4].tools))
	}
}

func TestRunLowerCeiling(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{
		toolCallReply(protocol.ToolCall{ID: "c1", Name: "step", Arguments: `{"n":1}`}),
		toolCallReply(protocol.ToolCall{ID: "c2", Name: "step", Arguments: `{"n":2}`}),
		{Content: "forced final"},
	}}
	b, invoker := newTestBridge(t, bridge.Config{MaxIterations: 1}, client, protocol.Tool{Name: "step"})

	result, err := b.Run(context.Background(), "keep going")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if invoker.count() != 1 {
		t.Errorf("invoker dispatched %d times, want 1", invoker.count())
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if result.Response != "forced final" {
		t.Errorf("Response = %q", result.Response)
	}
}

func TestDispatchBatchPreservesRequestOrder(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{
		toolCallReply(
			protocol.ToolCall{ID: "c1", Name: "slow", Arguments: `{}`},
			protocol.ToolCall{ID: "c2", Name: "medium", Arguments: `{}`},
			protocol.ToolCall{ID: "c3", Name: "fast", Arguments: `{}`},
		),
		{Content: "done"},
	}}
	b, invoker := newTestBridge(t, bridge.Config{}, client,
		protocol.Tool{Name: "slow"}, protocol.Tool{Name: "medium"}, protocol.Tool{Name: "fast"})

	// Completion order is the reverse of request order.
	delays := map[string]time.Duration{"slow": 60 * time.Millisecond, "medium": 30 * time.Millisecond, "fast": 0}
	invoker.fn = func(ctx context.Context, name string, _ json.RawMessage) (json.RawMessage, error) {
		select {
		case <-time.After(delays[name]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return textResult("result of " + name), nil
	}

	result, err := b.Run(context.Background(), "run all three")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.ToolCalls) != 3 {
		t.Fatalf("ToolCalls = %d records, want 3", len(result.ToolCalls))
	}
	for i, want := range []string{"slow", "medium", "fast"} {
		record := result.ToolCalls[i]
		if record.Name != want {
			t.Errorf("record %d name = %q, want %q", i, record.Name, want)
		}
		if record.Result != "result of "+want {
			t.Errorf("record %d result = %q", i, record.Result)
		}
	}

	// Tool messages fed back to the model follow request order too.
	calls := client.captured()
	var fedBack []string
	for _, m := range calls[1].messages {
		if m.Role == protocol.RoleTool {
			fedBack = append(fedBack, m.Content)
		}
	}
	want := []string{"result of slow", "result of medium", "result of fast"}
	if len(fedBack) != len(want) {
		t.Fatalf("fed back %d tool messages, want %d", len(fedBack), len(want))
	}
	for i := range want {
		if fedBack[i] != want[i] {
			t.Errorf("tool message %d = %q, want %q", i, fedBack[i], want[i])
		}
	}
}

func TestRunUnknownToolYieldsErrorResult(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{
		toolCallReply(protocol.ToolCall{ID: "c1", Name: "missing", Arguments: `{}`}),
		{Content: "recovered anyway"},
	}}
	b, _ := newTestBridge(t, bridge.Config{}, client, protocol.Tool{Name: "lookup"})

	result, err := b.Run(context.Background(), "use the missing tool")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Response != "recovered anyway" {
		t.Errorf("Response = %q", result.Response)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d records, want 1", len(result.ToolCalls))
	}
	record := result.ToolCalls[0]
	if !record.IsError {
		t.Error("record not marked as error")
	}
	if record.Result != "No MCP found for tool: missing" {
		t.Errorf("record result = %q", record.Result)
	}
}

func TestRunFailingCallDoesNotAbortBatch(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{
		toolCallReply(
			protocol.ToolCall{ID: "c1", Name: "broken", Arguments: `{}`},
			protocol.ToolCall{ID: "c2", Name: "working", Arguments: `{}`},
		),
		{Content: "partial success"},
	}}
	b, invoker := newTestBridge(t, bridge.Config{}, client,
		protocol.Tool{Name: "broken"}, protocol.Tool{Name: "working"})

	invoker.fn = func(_ context.Context, name string, _ json.RawMessage) (json.RawMessage, error) {
		if name == "broken" {
			return nil, errors.New("backend unavailable")
		}
		return textResult("fine"), nil
	}

	result, err := b.Run(context.Background(), "run both")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %d records, want 2", len(result.ToolCalls))
	}
	if !result.ToolCalls[0].IsError {
		t.Error("broken call not marked as error")
	}
	if !strings.Contains(result.ToolCalls[0].Result, "backend unavailable") {
		t.Errorf("broken call result = %q", result.ToolCalls[0].Result)
	}
	if result.ToolCalls[1].IsError || result.ToolCalls[1].Result != "fine" {
		t.Errorf("working call record = %+v", result.ToolCalls[1])
	}
}

func TestProcessMessageReturnsErrorString(t *testing.T) {
	client := &scriptedClient{err: fmt.Errorf("connection refused")}
	b, _ := newTestBridge(t, bridge.Config{}, client)

	response := b.ProcessMessage(context.Background(), "hello")
	if !strings.Contains(response, "connection refused") {
		t.Errorf("response = %q, want the underlying error mentioned", response)
	}
}

func TestProcessMessageRecoversFromPanic(t *testing.T) {
	client := &scriptedClient{panicOn: 1}
	b, _ := newTestBridge(t, bridge.Config{}, client)

	response := b.ProcessMessage(context.Background(), "hello")
	if !strings.Contains(response, "scripted panic") {
		t.Errorf("response = %q, want the panic value mentioned", response)
	}
}

func TestRunSystemPromptLeadsTranscript(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{{Content: "hi"}}}
	b, _ := newTestBridge(t, bridge.Config{SystemPrompt: "You are terse."}, client)

	if _, err := b.Run(context.Background(), "hello"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	calls := client.captured()
	first := calls[0].messages[0]
	if first.Role != protocol.RoleSystem || first.Content != "You are terse." {
		t.Errorf("first message = %+v, want the system prompt", first)
	}
}
