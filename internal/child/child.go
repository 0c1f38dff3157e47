// Package child supervises the single MCP server process the bridge talks
// to over stdio: starting it, framing its stdout/stdin, watching its
// health, and restarting it with backoff when it dies (§4.2).
package child

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaspardpetit/mcpbridge/internal/backoff"
	"github.com/gaspardpetit/mcpbridge/internal/framing"
	"github.com/gaspardpetit/mcpbridge/internal/logx"
)

// Health is the child's health state machine (§4.2.2).
type Health int32

const (
	Starting Health = iota
	Ready
	Degraded
	Dead
	Terminal
)

func (h Health) String() string {
	switch h {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Dead:
		return "dead"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ErrTerminal is returned by Write once the restart budget is
// exhausted and the child will never be restarted again.
var ErrTerminal = errors.New("child: process is in terminal state")

// ErrNotReady is returned by Write when the child is not currently attached.
var ErrNotReady = errors.New("child: process is not ready to accept input")

// OnFrame is called for each frame read from the child's stdout.
type OnFrame func(frame []byte)

// Supervisor owns the lifecycle of one child process.
type Supervisor struct {
	command string
	args    []string
	env     []string
	grace   time.Duration
	maxRestarts int

	onFrame OnFrame

	mu      sync.Mutex
	cmd     *exec.Cmd
	writer  *framing.Writer
	health  atomic.Int32
	attempt int

	stopped atomic.Bool
	doneCh  chan struct{}
}

// New constructs a Supervisor. onFrame is invoked from the reader goroutine
// for every frame the child emits on stdout; callers must not block.
func New(command string, args, env []string, grace time.Duration, maxRestarts int, onFrame OnFrame) *Supervisor {
	s := &Supervisor{
		command:     command,
		args:        args,
		env:         env,
		grace:       grace,
		maxRestarts: maxRestarts,
		onFrame:     onFrame,
		doneCh:      make(chan struct{}),
	}
	s.health.Store(int32(Starting))
	return s
}

// OnFrame installs (or replaces) the callback invoked for every frame read
// from the child's stdout. Call this before Start; wiring the broker after
// constructing the supervisor avoids a New(supervisor, broker) /
// New(broker, supervisor) construction cycle between the two packages.
func (s *Supervisor) OnFrame(fn OnFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = fn
}

// Health returns the current health state.
func (s *Supervisor) Health() Health {
	return Health(s.health.Load())
}

// Start begins supervising the child in a background goroutine. It returns
// immediately, before the first process is spawned; spawning and readiness
// are observed asynchronously through Health.
func (s *Supervisor) Start(ctx context.Context) error {
	go s.superviseLoop(ctx)
	return nil
}

// Stop terminates the child and stops all supervision.
func (s *Supervisor) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	close(s.doneCh)
}

// MarkDegraded transitions a Ready child to Degraded, e.g. when the broker's
// timeout sweep finds at least one request the child never answered (§4.2.2).
func (s *Supervisor) MarkDegraded() {
	s.health.CompareAndSwap(int32(Ready), int32(Degraded))
}

// MarkReady transitions a Degraded child back to Ready once it responds
// again.
func (s *Supervisor) MarkReady() {
	s.health.CompareAndSwap(int32(Degraded), int32(Ready))
}

// Write sends data (a canonicalized wire frame) to the child's stdin.
func (s *Supervisor) Write(data []byte) error {
	if s.Health() == Terminal {
		return ErrTerminal
	}
	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()
	if w == nil {
		return ErrNotReady
	}
	return w.WriteFrame(data)
}

func (s *Supervisor) superviseLoop(ctx context.Context) {
	for {
		if s.stopped.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.health.Store(int32(Starting))
		exitCh, err := s.spawn(ctx)
		if err != nil {
			logx.Log.Error().Err(err).Str("command", s.command).Msg("child: failed to spawn")
			if !s.scheduleRestart(ctx) {
				return
			}
			continue
		}

		s.health.Store(int32(Ready))
		s.attempt = 0
		logx.Log.Info().Str("command", s.command).Msg("child: ready")

		select {
		case <-ctx.Done():
			return
		case <-exitCh:
			if s.stopped.Load() {
				return
			}
			s.health.Store(int32(Dead))
			logx.Log.Warn().Msg("child: process exited, scheduling restart")
			if !s.scheduleRestart(ctx) {
				return
			}
		}
	}
}

func (s *Supervisor) scheduleRestart(ctx context.Context) bool {
	if s.attempt >= s.maxRestarts {
		s.health.Store(int32(Terminal))
		logx.Log.Error().Int("attempts", s.attempt).Msg("child: restart budget exhausted, entering terminal state")
		return false
	}
	delay := backoff.Delay(s.attempt)
	s.attempt++
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (s *Supervisor) spawn(ctx context.Context) (<-chan struct{}, error) {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	if len(s.env) > 0 {
		cmd.Env = append(cmd.Environ(), s.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("child: start: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.writer = framing.NewWriter(stdin)
	s.mu.Unlock()

	go s.readLoop(stdout)
	go drainStderr(stderr)

	exitCh := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exitCh)
	}()

	return exitCh, nil
}

func (s *Supervisor) readLoop(stdout io.Reader) {
	r := framing.NewReader(stdout)
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			return
		}
		if s.onFrame != nil {
			s.onFrame(frame)
		}
	}
}

// drainStderr logs the child's stderr line by line so it never blocks the
// child on a full pipe buffer; it carries no framing semantics of its own.
func drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logx.Log.Debug().Str("stream", "child_stderr").Msg(scanner.Text())
	}
}
