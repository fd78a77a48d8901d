package claude

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/apierr"
)

var ErrCLINotFound = errors.New("claude CLI not found")

const (
	// System prompts longer than this are written to CLAUDE.md in a scratch
	// working directory instead of being passed on the command line.
	systemPromptFileThreshold = 10_000
	systemPromptFileName      = "CLAUDE.md"

	eventBufferSize = 64
	readBufferSize  = 64 << 10
	stderrTailSize  = 8 << 10

	defaultReapGrace = 30 * time.Second
	// Bounds how long Wait blocks on stderr copying after the child exits.
	waitDelay = 5 * time.Second
)

type SpawnRequest struct {
	Prompt              string
	Model               string
	SystemPrompt        string
	AppendSystemPrompt  string
	DisableBuiltinTools bool
	// WorkDir is the backend's working directory. A scratch directory for an
	// oversized system prompt takes precedence.
	WorkDir string
}

// Driver spawns Claude CLI processes in stream-json mode.
type Driver struct {
	logger     zerolog.Logger
	binaryPath string
	reapGrace  time.Duration
}

func NewDriver(logger zerolog.Logger, binaryPath string) *Driver {
	return &Driver{
		logger:     logger.With().Str("component", "claude_driver").Logger(),
		binaryPath: binaryPath,
		reapGrace:  defaultReapGrace,
	}
}

// Spawn starts the CLI, pipes req.Prompt through stdin and returns once the
// first output line is available, so the CLI-assigned session id (possibly
// empty) is known to the caller. The first line is also the first event on
// the returned stream.
func (d *Driver) Spawn(ctx context.Context, req SpawnRequest) (*Process, *Stream, string, error) {
	args := []string{"-p"}
	workDir := req.WorkDir

	var scratchDir string
	if len(req.SystemPrompt) > systemPromptFileThreshold {
		dir, err := writeSystemPromptFile(req.SystemPrompt)
		if err != nil {
			return nil, nil, "", apierr.Internal(err, "write system prompt file")
		}
		scratchDir = dir
		workDir = dir
		d.logger.Info().
			Str("path", filepath.Join(dir, systemPromptFileName)).
			Int("size", len(req.SystemPrompt)).
			Msg("system prompt written to file")
	} else if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if req.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.AppendSystemPrompt)
	}
	if req.DisableBuiltinTools {
		args = append(args, "--tools", "")
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	)

	// Process lifetime is owned by the session manager, not by ctx.
	cmd := exec.Command(d.binaryPath, args...)
	cmd.Dir = workDir
	cmd.WaitDelay = waitDelay

	removeScratch := func() {
		if scratchDir != "" {
			_ = os.RemoveAll(scratchDir)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		removeScratch()
		return nil, nil, "", apierr.Internal(err, "open claude stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		removeScratch()
		return nil, nil, "", apierr.Internal(err, "open claude stdout")
	}
	stderr := newTailBuffer(stderrTailSize)
	cmd.Stderr = stderr

	d.logger.Info().
		Str("model", req.Model).
		Int("prompt_size", len(req.Prompt)).
		Int("system_prompt_size", len(req.SystemPrompt)).
		Msg("spawning claude process")

	if err := cmd.Start(); err != nil {
		removeScratch()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %v", ErrCLINotFound, err)
		}
		return nil, nil, "", apierr.ServiceUnavailable(err, "failed to spawn claude")
	}

	process := &Process{
		cmd:        cmd,
		scratchDir: scratchDir,
		stderr:     stderr,
		logger:     d.logger,
		reapGrace:  d.reapGrace,
	}

	stream := newStream(stdout)
	first := make(chan string, 1)
	go stream.read(first)

	if _, err := io.WriteString(stdin, req.Prompt); err != nil {
		_ = stdin.Close()
		stream.Close()
		_ = process.Kill()
		return nil, nil, "", apierr.Internal(err, "write prompt to claude stdin")
	}
	if err := stdin.Close(); err != nil {
		stream.Close()
		_ = process.Kill()
		return nil, nil, "", apierr.Internal(err, "close claude stdin")
	}

	select {
	case nativeID := <-first:
		return process, stream, nativeID, nil
	case <-ctx.Done():
		stream.Close()
		_ = process.Kill()
		return nil, nil, "", apierr.ServiceUnavailable(ctx.Err(), "waiting for claude output")
	}
}

func writeSystemPromptFile(prompt string) (string, error) {
	dir, err := os.MkdirTemp("", "claude-prompt-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, systemPromptFileName), []byte(prompt), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write %s: %w", systemPromptFileName, err)
	}
	return dir, nil
}

// Process owns one CLI child and its scratch directory. Exactly one of Kill
// or Reap takes effect; later calls return the first outcome.
type Process struct {
	cmd        *exec.Cmd
	scratchDir string
	stderr     *tailBuffer
	logger     zerolog.Logger
	reapGrace  time.Duration

	once    sync.Once
	waitErr error
}

func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Kill terminates the process and waits for it.
func (p *Process) Kill() error {
	p.once.Do(func() {
		_ = p.cmd.Process.Kill()
		p.waitErr = p.cmd.Wait()
		p.release("killed")
	})
	return p.waitErr
}

// Reap waits for the process to exit on its own. A process still running
// after the reap grace period is killed.
func (p *Process) Reap() error {
	p.once.Do(func() {
		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()

		timer := time.NewTimer(p.reapGrace)
		defer timer.Stop()

		select {
		case p.waitErr = <-done:
		case <-timer.C:
			p.logger.Warn().Int("pid", p.PID()).Dur("grace", p.reapGrace).Msg("claude process did not exit, killing")
			_ = p.cmd.Process.Kill()
			p.waitErr = <-done
		}
		p.release("reaped")
	})
	return p.waitErr
}

func (p *Process) release(how string) {
	if p.scratchDir != "" {
		if err := os.RemoveAll(p.scratchDir); err != nil {
			p.logger.Warn().Err(err).Str("path", p.scratchDir).Msg("remove scratch dir")
		}
	}
	event := p.logger.Debug().Int("pid", p.PID()).Str("outcome", how)
	if tail := p.stderr.String(); tail != "" {
		event = event.Str("stderr", tail)
	}
	if p.waitErr != nil {
		event = event.AnErr("exit", p.waitErr)
	}
	event.Msg("claude process released")
}

// Stream delivers the CLI's output events in order over a bounded channel.
// The channel is closed when output ends or the stream is closed.
type Stream struct {
	events chan RawEvent
	done   chan struct{}
	stdout io.ReadCloser

	closeOnce sync.Once
}

func newStream(stdout io.ReadCloser) *Stream {
	return &Stream{
		events: make(chan RawEvent, eventBufferSize),
		done:   make(chan struct{}),
		stdout: stdout,
	}
}

func (s *Stream) Events() <-chan RawEvent {
	return s.events
}

// Close stops the reader and closes the CLI's stdout, so a process still
// writing sees a broken pipe. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.stdout.Close()
	})
}

// read sends the first event's session id on first (or "" when output ends
// before any line) and then feeds every non-blank line into events.
func (s *Stream) read(first chan<- string) {
	defer close(s.events)

	reader := bufio.NewReaderSize(s.stdout, readBufferSize)
	reportedFirst := false
	report := func(id string) {
		if !reportedFirst {
			reportedFirst = true
			first <- id
		}
	}
	defer report("")

	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			event := decodeLine(trimmed)
			report(SessionID(event))
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if overflow := len(b.buf) - b.max; overflow > 0 {
		b.buf = append(b.buf[:0], b.buf[overflow:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
