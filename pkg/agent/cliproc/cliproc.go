// Package cliproc implements the agent backend over an external coding-agent
// executable. Each prompt is one process invocation speaking line-delimited
// JSON on stdout; conversations resume via the executable's own session ids.
package cliproc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"devloop/pkg/agent"
	"devloop/pkg/exec"
	"devloop/pkg/logx"
)

// Backend runs the configured agent executable per prompt.
type Backend struct {
	spawner exec.Spawner
	command []string
	workDir string
	grace   time.Duration
	logger  *logx.Logger

	mu sync.Mutex
	// sessions maps our opaque handles to the executable's conversation
	// ids; empty until the first prompt reports one.
	sessions map[agent.SessionID]string
	current  *exec.Process
	closed   bool

	events chan agent.Event
}

// New creates a CLI backend. command is the argv prefix of the agent
// executable; grace bounds teardown before the process group is killed.
func New(spawner exec.Spawner, command []string, workDir string, grace time.Duration) *Backend {
	return &Backend{
		spawner:  spawner,
		command:  append([]string(nil), command...),
		workDir:  workDir,
		grace:    grace,
		logger:   logx.NewLogger("cliproc"),
		sessions: make(map[agent.SessionID]string),
		events:   make(chan agent.Event, 64),
	}
}

// CreateSession allocates a handle. The executable's own conversation id is
// learned from the first prompt's event stream.
func (b *Backend) CreateSession(_ context.Context) (agent.SessionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", &agent.BackendError{Msg: "backend is closed"}
	}
	id := agent.SessionID(uuid.NewString())
	b.sessions[id] = ""
	return id, nil
}

// SendPrompt runs one invocation of the agent executable and returns the
// final result text.
func (b *Backend) SendPrompt(ctx context.Context, id agent.SessionID, prompt, model string) (string, error) {
	b.mu.Lock()
	resumeID, ok := b.sessions[id]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("session %s: %w", id, agent.ErrNoActiveSession)
	}

	argv := append([]string(nil), b.command...)
	argv = append(argv, "--print", "--output-format", "stream-json", "--verbose")
	if model != "" {
		argv = append(argv, "--model", model)
	}
	if resumeID != "" {
		argv = append(argv, "--resume", resumeID)
	}
	argv = append(argv, prompt)

	collector := newStreamCollector(b.emit)
	var stderrLines []string
	var stderrMu sync.Mutex

	proc, err := b.spawner.Spawn(ctx, argv, exec.Opts{
		Dir:      b.workDir,
		OnStdout: collector.consume,
		OnStderr: func(line string) {
			stderrMu.Lock()
			stderrLines = append(stderrLines, line)
			stderrMu.Unlock()
			b.logger.DebugDomain("agent", "stderr: %s", line)
		},
	})
	if err != nil {
		return "", &agent.BackendError{Msg: "spawn agent process", Cause: err}
	}

	b.setCurrent(proc)
	defer b.setCurrent(nil)

	// A cancelled context must not leave the agent's process tree behind.
	stopDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		select {
		case <-ctx.Done():
			if _, err := proc.Stop(b.grace); err != nil {
				b.logger.Warn("teardown after cancellation: %v", err)
			}
		case <-proc.Done():
		}
	}()

	status, waitErr := proc.Wait(context.Background())
	<-stopDone
	if waitErr != nil {
		return "", &agent.BackendError{Msg: "wait for agent process", Cause: waitErr}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if convID := collector.sessionID(); convID != "" {
		b.mu.Lock()
		if _, stillThere := b.sessions[id]; stillThere {
			b.sessions[id] = convID
		}
		b.mu.Unlock()
	}

	if status.Signaled {
		return "", fmt.Errorf("signal %v: %w", status.Signal, agent.ErrTerminatedBySignal)
	}
	if status.ExitCode != 0 {
		stderrMu.Lock()
		detail := strings.Join(stderrLines, "\n")
		stderrMu.Unlock()
		if isStaleConversation(detail) || isStaleConversation(collector.errorText()) {
			return "", fmt.Errorf("session %s: %w", id, agent.ErrNoActiveSession)
		}
		return "", &agent.ProcessExitError{Code: status.ExitCode}
	}

	result := collector.result()
	if collector.failed() {
		if isStaleConversation(collector.errorText()) {
			return "", fmt.Errorf("session %s: %w", id, agent.ErrNoActiveSession)
		}
		return "", &agent.BackendError{Msg: collector.errorText()}
	}
	if result == "" {
		return "", agent.ErrEmptyResponse
	}
	return result, nil
}

// isStaleConversation matches the executable's complaint about an unknown
// conversation id, which the session manager recovers from transparently.
func isStaleConversation(detail string) bool {
	lower := strings.ToLower(detail)
	return strings.Contains(lower, "no conversation found") ||
		strings.Contains(lower, "session not found") ||
		strings.Contains(lower, "unknown session")
}

func (b *Backend) setCurrent(p *exec.Process) {
	b.mu.Lock()
	b.current = p
	b.mu.Unlock()
}

// Events returns the live event stream.
func (b *Backend) Events() <-chan agent.Event {
	return b.events
}

// DeleteSession forgets the conversation mapping. The executable keeps its
// own on-disk history; nothing remote to release.
func (b *Backend) DeleteSession(_ context.Context, id agent.SessionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, agent.ErrNoActiveSession)
	}
	delete(b.sessions, id)
	return nil
}

// AbortSession tears down any in-flight process for the session.
func (b *Backend) AbortSession(_ context.Context, id agent.SessionID) error {
	b.mu.Lock()
	proc := b.current
	_, ok := b.sessions[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, agent.ErrNoActiveSession)
	}
	if proc == nil {
		return nil
	}
	if _, err := proc.Stop(b.grace); err != nil {
		return &agent.BackendError{Msg: "abort agent process", Cause: err}
	}
	return nil
}

// Close tears down any running process and closes the event stream.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	proc := b.current
	b.current = nil
	b.sessions = make(map[agent.SessionID]string)
	b.mu.Unlock()

	var err error
	if proc != nil {
		_, err = proc.Stop(b.grace)
	}
	close(b.events)
	return err
}

func (b *Backend) emit(event agent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- event:
	default:
		// Never let a slow consumer stall the process relay.
	}
}
