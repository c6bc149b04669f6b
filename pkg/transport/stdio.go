package transport

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hostbridge/mcp-endpoint-go/pkg/mcpwire"
)

// stdioMaxLine bounds a single newline-delimited JSON message.
const stdioMaxLine = 8 * 1024 * 1024

// Stdio launches a child process and exchanges newline-delimited JSON
// messages over its stdin/stdout. The close handler fires when the process
// exits or its stdout reaches EOF.
type Stdio struct {
	Command string
	Args    []string
	Env     map[string]string
	Logger  *slog.Logger

	mu        sync.Mutex
	onMessage MessageHandler
	onClose   CloseHandler
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	closed    bool
}

var _ Transport = (*Stdio)(nil)

// SetHandlers implements Transport.
func (t *Stdio) SetHandlers(onMessage MessageHandler, onClose CloseHandler) {
	t.mu.Lock()
	t.onMessage = onMessage
	t.onClose = onClose
	t.mu.Unlock()
}

// Open starts the child process and the stdout read loop.
func (t *Stdio) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Command == "" {
		return errors.New("transport: stdio command missing")
	}
	if t.cmd != nil {
		return errors.New("transport: stdio already open")
	}
	cmd := exec.Command(t.Command, t.Args...)
	if len(t.Env) > 0 {
		env := os.Environ()
		for k, v := range t.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "transport: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "transport: stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "transport: start %q", t.Command)
	}
	t.cmd = cmd
	t.stdin = stdin
	go t.readLoop(stdout)
	return nil
}

func (t *Stdio) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), stdioMaxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := make(mcpwire.Message, len(line))
		copy(msg, line)
		t.mu.Lock()
		handler := t.onMessage
		t.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
	err := scanner.Err()
	if err != nil && t.Logger != nil {
		t.Logger.Debug("stdio transport read loop ended", "command", t.Command, "error", err)
	}
	t.finish(err)
}

// Send writes one newline-terminated message to the child's stdin.
func (t *Stdio) Send(ctx context.Context, msg mcpwire.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.stdin == nil {
		return errors.New("transport: stdio not open")
	}
	if _, err := t.stdin.Write(append(msg, '\n')); err != nil {
		return errors.Wrap(err, "transport: stdio write")
	}
	return nil
}

// Close terminates the child process. Safe to call more than once.
func (t *Stdio) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cmd := t.cmd
	stdin := t.stdin
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	t.finish(nil)
	return nil
}

// finish fires the close handler exactly once, from whichever of Close or the
// read loop gets there first.
func (t *Stdio) finish(err error) {
	t.mu.Lock()
	t.closed = true
	onClose := t.onClose
	t.onClose = nil
	t.mu.Unlock()

	if onClose != nil {
		onClose(err)
	}
}
