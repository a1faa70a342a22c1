package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/probichaux/ollama-mcp-bridge/core/protocol"
	"github.com/probichaux/ollama-mcp-bridge/llm"
	"github.com/probichaux/ollama-mcp-bridge/observability"
	"github.com/probichaux/ollama-mcp-bridge/tools"
)

// Result holds the outcome of one turn.
type Result struct {
	Response   string           // Final text response from the model.
	Iterations int              // Tool-dispatch rounds completed.
	ToolCalls  []ToolCallRecord // Log of all tool invocations.
}

// ToolCallRecord is one executed tool call.
type ToolCallRecord struct {
	protocol.ToolCall
	Iteration int    // Dispatch round in which the call occurred.
	Result    string // Rendered tool output.
	IsError   bool   // Whether the call produced an error result.
}

// turn is the state of one ProcessMessage invocation: the transcript, the
// set of tool-call signatures already dispatched, and the accumulated tool
// results. Created per turn and discarded with it; never shared.
type turn struct {
	id          string
	userMessage string
	messages    []protocol.Message
	seen        map[string]struct{}
	results     []resultEntry
}

type resultEntry struct {
	name    string
	content string
	isError bool
}

func newTurn(systemPrompt, userMessage string) *turn {
	t := &turn{
		id:          uuid.Must(uuid.NewV7()).String(),
		userMessage: userMessage,
		seen:        make(map[string]struct{}),
	}
	if systemPrompt != "" {
		t.messages = append(t.messages, protocol.NewMessage(protocol.RoleSystem, systemPrompt))
	}
	t.messages = append(t.messages, protocol.NewMessage(protocol.RoleUser, userMessage))
	return t
}

func (t *turn) seenBefore(signature string) bool {
	_, seen := t.seen[signature]
	return seen
}

func (t *turn) record(signature string) {
	t.seen[signature] = struct{}{}
}

func (t *turn) addAssistant(reply *llm.Reply) {
	t.messages = append(t.messages, protocol.Message{
		Role:      protocol.RoleAssistant,
		Content:   reply.Content,
		ToolCalls: reply.ToolCalls,
	})
}

// addResults appends one tool message per call, in request order, and
// accumulates the entries for a possible forcing prompt later.
func (t *turn) addResults(calls []protocol.ToolCall, outcomes []callOutcome) {
	for i, call := range calls {
		t.messages = append(t.messages, protocol.Message{
			Role:       protocol.RoleTool,
			Content:    outcomes[i].content,
			ToolCallID: call.ID,
		})
		t.results = append(t.results, resultEntry{
			name:    call.Name,
			content: outcomes[i].content,
			isError: outcomes[i].isError,
		})
	}
}

// addForcingInstruction appends the synthetic message demanding a final
// answer on the next model call.
func (t *turn) addForcingInstruction() {
	t.messages = append(t.messages, protocol.NewMessage(protocol.RoleSystem,
		"This is the final round. Answer the user's question now using the tool results above. Do not request any more tool calls."))
}

// forcingPrompt compiles every accumulated tool result into a single prompt
// instructing the model to answer without further tool use.
func (t *turn) forcingPrompt() string {
	var b strings.Builder
	b.WriteString("You have already gathered the following tool results:\n\n")
	for _, r := range t.results {
		if r.isError {
			fmt.Fprintf(&b, "[%s] (error): %s\n", r.name, r.content)
		} else {
			fmt.Fprintf(&b, "[%s]: %s\n", r.name, r.content)
		}
	}
	b.WriteString("\nUsing only these results, answer the original question without calling any tools: ")
	b.WriteString(t.userMessage)
	return b.String()
}

// ProcessMessage runs one full turn and always returns a string: the model's
// final answer, or a user-visible error description. No failure during the
// turn escapes as a fault.
func (b *Bridge) ProcessMessage(ctx context.Context, message string) (response string) {
	defer func() {
		if r := recover(); r != nil {
			b.observer.OnEvent(ctx, observability.Event{
				Type:      EventTurnError,
				Level:     observability.LevelError,
				Timestamp: time.Now(),
				Source:    "bridge.ProcessMessage",
				Data:      map[string]any{"panic": fmt.Sprint(r)},
			})
			response = fmt.Sprintf("Error processing message: %v", r)
		}
	}()

	result, err := b.Run(ctx, message)
	if err != nil {
		b.observer.OnEvent(ctx, observability.Event{
			Type:      EventTurnError,
			Level:     observability.LevelError,
			Timestamp: time.Now(),
			Source:    "bridge.ProcessMessage",
			Data:      map[string]any{"error": err.Error()},
		})
		return fmt.Sprintf("Error processing message: %v", err)
	}
	return result.Response
}

// Run executes one turn of the model-tool loop for the given user message.
//
// The model is invoked with the directory's tool list; while it replies with
// tool calls, the batch is dispatched (results ordered as requested), the
// results are fed back, and the model is re-invoked, subject to two bounds:
// a batch whose signature was already dispatched this turn ends the loop
// through a forcing prompt, and so does exhausting the dispatch-round
// ceiling.
func (b *Bridge) Run(ctx context.Context, message string) (*Result, error) {
	t := newTurn(b.systemPrompt, message)
	result := &Result{}

	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventTurnStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "bridge.Run",
		Data: map[string]any{
			"turn":           t.id,
			"message_length": len(message),
			"tools":          b.directory.Len(),
		},
	})

	reply, err := b.client.Chat(ctx, t.messages, b.directory.List())
	if err != nil {
		return result, fmt.Errorf("model call failed: %w", err)
	}

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if !reply.IsToolCall() {
			result.Response = reply.Content
			b.observer.OnEvent(ctx, observability.Event{
				Type:      EventTurnComplete,
				Level:     observability.LevelInfo,
				Timestamp: time.Now(),
				Source:    "bridge.Run",
				Data: map[string]any{
					"turn":       t.id,
					"iterations": result.Iterations,
				},
			})
			return result, nil
		}

		signature := protocol.Signature(reply.ToolCalls)
		if t.seenBefore(signature) {
			// The model re-requested an identical batch; a third identical
			// dispatch would not produce new information.
			b.observer.OnEvent(ctx, observability.Event{
				Type:      EventRepeatDetected,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "bridge.Run",
				Data:      map[string]any{"turn": t.id, "signature": signature},
			})
			return b.forceFinal(ctx, t, result)
		}
		t.record(signature)

		b.observer.OnEvent(ctx, observability.Event{
			Type:      EventIterationStart,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "bridge.Run",
			Data:      map[string]any{"turn": t.id, "iteration": iteration + 1, "calls": len(reply.ToolCalls)},
		})

		t.addAssistant(reply)
		outcomes := b.dispatchBatch(ctx, iteration, reply.ToolCalls, result)
		t.addResults(reply.ToolCalls, outcomes)
		result.Iterations = iteration + 1

		if iteration == b.maxIterations-1 {
			t.addForcingInstruction()
		}

		reply, err = b.client.Chat(ctx, t.messages, b.directory.List())
		if err != nil {
			return result, fmt.Errorf("model call failed: %w", err)
		}

		if reply.IsToolCall() && iteration+1 >= b.maxIterations {
			// Ceiling reached and the model still wants tools.
			return b.forceFinal(ctx, t, result)
		}
	}
}

// forceFinal invokes the model once more with the compiled forcing prompt
// and ends the turn with its content. No tools are offered on this call.
func (b *Bridge) forceFinal(ctx context.Context, t *turn, result *Result) (*Result, error) {
	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventForcedAnswer,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "bridge.Run",
		Data:      map[string]any{"turn": t.id, "iterations": result.Iterations},
	})

	messages := make([]protocol.Message, 0, 2)
	if b.systemPrompt != "" {
		messages = append(messages, protocol.NewMessage(protocol.RoleSystem, b.systemPrompt))
	}
	messages = append(messages, protocol.NewMessage(protocol.RoleUser, t.forcingPrompt()))

	reply, err := b.client.Chat(ctx, messages, nil)
	if err != nil {
		return result, fmt.Errorf("forced final model call failed: %w", err)
	}

	result.Response = reply.Content
	if result.Response == "" {
		// The model produced nothing usable; fall back to the compiled
		// results so the turn still returns an answer.
		result.Response = t.forcingPrompt()
	}
	return result, nil
}

// callOutcome is the rendered result of one dispatched call.
type callOutcome struct {
	content string
	isError bool
}

// dispatchBatch executes every requested call, each individually
// time-bounded, and returns the outcomes in request order regardless of
// completion order. A failing call yields an error-bearing entry; it never
// aborts the batch.
func (b *Bridge) dispatchBatch(ctx context.Context, iteration int, calls []protocol.ToolCall, result *Result) []callOutcome {
	outcomes := make([]callOutcome, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call protocol.ToolCall) {
			defer wg.Done()
			outcomes[i] = b.dispatchOne(ctx, call)
		}(i, call)
	}
	wg.Wait()

	for i, call := range calls {
		b.observer.OnEvent(ctx, observability.Event{
			Type:      EventToolComplete,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "bridge.Run",
			Data: map[string]any{
				"iteration": iteration + 1,
				"name":      call.Name,
				"error":     outcomes[i].isError,
			},
		})
		result.ToolCalls = append(result.ToolCalls, ToolCallRecord{
			ToolCall:  call,
			Iteration: iteration + 1,
			Result:    outcomes[i].content,
			IsError:   outcomes[i].isError,
		})
	}
	return outcomes
}

func (b *Bridge) dispatchOne(ctx context.Context, call protocol.ToolCall) callOutcome {
	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventToolDispatch,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "bridge.Run",
		Data:      map[string]any{"name": call.Name},
	})

	callCtx, cancel := context.WithTimeout(ctx, b.toolTimeout)
	defer cancel()

	var arguments json.RawMessage
	if call.Arguments != "" {
		arguments = json.RawMessage(call.Arguments)
	}

	raw, err := b.directory.Dispatch(callCtx, call.Name, arguments)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return callOutcome{content: fmt.Sprintf("No MCP found for tool: %s", call.Name), isError: true}
	case err != nil:
		return callOutcome{content: fmt.Sprintf("Error executing tool %s: %v", call.Name, err), isError: true}
	}

	content, isError := renderToolResult(raw)
	return callOutcome{content: content, isError: isError}
}

// renderToolResult flattens a peer's tool result payload into text for the
// model. MCP text content blocks are joined; a bare string is unquoted;
// anything else is passed through as compact JSON.
func renderToolResult(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, false
	}

	var structured struct {
		Content json.RawMessage `json:"content"`
		IsError bool            `json:"isError"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && len(structured.Content) > 0 {
		if err := json.Unmarshal(structured.Content, &asString); err == nil {
			return asString, structured.IsError
		}

		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(structured.Content, &blocks); err == nil {
			parts := make([]string, 0, len(blocks))
			for _, block := range blocks {
				if block.Text != "" {
					parts = append(parts, block.Text)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n"), structured.IsError
			}
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), false
	}
	return buf.String(), false
}
