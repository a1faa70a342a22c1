package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/probichaux/ollama-mcp-bridge/observability"
)

// Transport delivers newline-delimited JSON messages to and from a protocol
// peer. Start spawns the peer and begins delivering decoded inbound messages
// to onMessage, one at a time, in arrival order. Send and Close may be called
// from any goroutine.
type Transport interface {
	Start(ctx context.Context, onMessage func(json.RawMessage)) error
	Send(v any) error
	Close() error
}

// StdioTransport runs a peer as a child process and frames messages as one
// JSON value per newline-terminated line over its standard input and output.
// The process's standard error is drained into diagnostic events; it never
// carries protocol traffic.
type StdioTransport struct {
	command  string
	args     []string
	env      map[string]string
	observer observability.Observer

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	writeMu   sync.Mutex
	onMessage func(json.RawMessage)

	// inbound accumulates bytes that do not yet form a complete line. It is
	// owned by the read loop goroutine.
	inbound []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdioTransport creates a transport that will spawn command with args.
// Entries in env are appended to the current process environment. A nil
// observer discards diagnostics.
func NewStdioTransport(command string, args []string, env map[string]string, observer observability.Observer) *StdioTransport {
	return &StdioTransport{
		command:  command,
		args:     args,
		env:      env,
		observer: observability.OrNoOp(observer),
		closed:   make(chan struct{}),
	}
}

// Start spawns the child process and begins reading its output. onMessage
// receives each complete decoded message; it is invoked from a single
// goroutine so deliveries never interleave.
func (t *StdioTransport) Start(ctx context.Context, onMessage func(json.RawMessage)) error {
	select {
	case <-t.closed:
		// A closed transport stays closed: Send would fail every write and
		// Close would no-op, leaking the respawned process.
		return fmt.Errorf("%w: transport closed", ErrConnection)
	default:
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrConnection, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrConnection, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrConnection, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %v", ErrConnection, t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.onMessage = onMessage

	go t.readLoop(ctx, stdout)
	go t.drainStderr(ctx, stderr)

	return nil
}

// Send serializes v as one JSON value terminated by a single newline and
// writes it atomically to the peer's input stream.
func (t *StdioTransport) Send(v any) error {
	select {
	case <-t.closed:
		return fmt.Errorf("%w: transport closed", ErrWrite)
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// Close kills the child process and releases its streams. Idempotent.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			t.cmd.Process.Kill()
			t.cmd.Wait()
		}
		t.inbound = nil
	})
	return nil
}

func (t *StdioTransport) readLoop(ctx context.Context, stdout io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			t.feed(ctx, chunk[:n])
		}
		if err != nil {
			select {
			case <-t.closed:
			default:
				t.observer.OnEvent(ctx, observability.Event{
					Type:      EventProcessExit,
					Level:     observability.LevelWarning,
					Timestamp: time.Now(),
					Source:    "mcp.StdioTransport",
					Data:      map[string]any{"command": t.command, "error": err.Error()},
				})
			}
			return
		}
	}
}

// feed appends a chunk of received bytes to the inbound buffer and drains
// every complete line from it. A leftover partial line is retained verbatim
// for the next chunk, so message decoding is independent of how the stream
// was split into reads.
func (t *StdioTransport) feed(ctx context.Context, chunk []byte) {
	t.inbound = append(t.inbound, chunk...)

	for {
		idx := bytes.IndexByte(t.inbound, '\n')
		if idx < 0 {
			return
		}

		line := bytes.TrimSpace(t.inbound[:idx])
		t.inbound = t.inbound[idx+1:]

		if len(line) == 0 {
			continue
		}

		if !json.Valid(line) {
			// One bad line is dropped; it must not disturb extraction of the
			// lines that follow it.
			t.observer.OnEvent(ctx, observability.Event{
				Type:      EventDecodeError,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "mcp.StdioTransport",
				Data:      map[string]any{"line": truncateForLog(line)},
			})
			continue
		}

		msg := make(json.RawMessage, len(line))
		copy(msg, line)
		t.onMessage(msg)
	}
}

func (t *StdioTransport) drainStderr(ctx context.Context, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
	for scanner.Scan() {
		t.observer.OnEvent(ctx, observability.Event{
			Type:      EventStderrLine,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "mcp.StdioTransport",
			Data:      map[string]any{"command": t.command, "line": scanner.Text()},
		})
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-t.closed:
		default:
			// Draining stopped mid-stream; without this event an over-long
			// line would silence stderr for the rest of the process's life.
			t.observer.OnEvent(ctx, observability.Event{
				Type:      EventStderrLine,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "mcp.StdioTransport",
				Data:      map[string]any{"command": t.command, "error": err.Error()},
			})
		}
	}
}

// maxStderrLine caps a single stderr line; peers that log JSON blobs can
// exceed bufio's 64 KiB default.
const maxStderrLine = 1024 * 1024

func truncateForLog(line []byte) string {
	const max = 200
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}
