package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// StdioTransport is the child-side mirror of ProcessTransport: the worker
// binary's own stdin/stdout, framed as newline-delimited JSON envelopes
// back to the manager that spawned it — the same proxy idiom as
// cmd/ployzd's dial-stdio command, run in reverse.
type StdioTransport struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	started bool

	messages chan Envelope
	exits    chan ExitInfo
	errs     chan error
}

// NewStdioTransport builds a StdioTransport over os.Stdin/os.Stdout.
func NewStdioTransport() *StdioTransport {
	return NewStdioTransportWith(os.Stdin, os.Stdout)
}

// NewStdioTransportWith builds a StdioTransport over arbitrary reader/writer
// pipes, for tests.
func NewStdioTransportWith(in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		in:       in,
		out:      out,
		messages: make(chan Envelope, 32),
		exits:    make(chan ExitInfo, 1),
		errs:     make(chan error, 8),
	}
}

// Spawn starts the read loop. There is no child process to start — the
// worker binary process itself is the "child" — so Spawn only wires up
// decoding of its own stdin.
func (t *StdioTransport) Spawn(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrProcessExists
	}
	t.started = true
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *StdioTransport) readLoop() {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			select {
			case t.errs <- fmt.Errorf("decode manager message: %w", err):
			default:
			}
			continue
		}
		t.messages <- env
	}
	close(t.messages)
	t.exits <- ExitInfo{Err: scanner.Err()}
	close(t.exits)
}

// Send writes env to stdout.
func (t *StdioTransport) Send(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	raw = append(raw, '\n')

	done := make(chan error, 1)
	go func() {
		_, werr := t.out.Write(raw)
		done <- werr
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill has no meaningful child-side action; the worker exits its own
// process (os.Exit) rather than killing itself through this interface.
func (t *StdioTransport) Kill(opts KillOptions) error { return nil }

func (t *StdioTransport) Messages() <-chan Envelope { return t.messages }
func (t *StdioTransport) Exits() <-chan ExitInfo    { return t.exits }
func (t *StdioTransport) Errors() <-chan error      { return t.errs }
