package agent

import (
	"context"
	"sync"

	"devloop/pkg/logx"
)

// Progress is an in-flight activity indicator (a spinner, a dot printer).
// The session manager cancels it before relaying the first text delta so
// streamed output does not interleave with indicator redraws.
type Progress interface {
	Cancel()
}

// Manager owns the current backend session handles and drives every remote
// interaction. The loop never talks to a Backend directly.
//
// Session identity rules: build reuses the session opened by the most recent
// successful plan call, plan and eval each open a fresh session, and idea
// selection uses a throwaway session that is closed best-effort.
type Manager struct {
	backend Backend
	sink    logx.EventSink
	logger  *logx.Logger
	model   string

	mu           sync.Mutex
	buildSession SessionID

	progressMu sync.Mutex
	progress   Progress

	pumpDone chan struct{}
}

// NewManager wraps a backend and starts its event pump. The model spec is
// passed through on every prompt; empty means backend default.
func NewManager(backend Backend, sink logx.EventSink, model string) *Manager {
	m := &Manager{
		backend:  backend,
		sink:     sink,
		logger:   logx.NewLogger("session"),
		model:    model,
		pumpDone: make(chan struct{}),
	}
	go m.pumpEvents()
	return m
}

// pumpEvents consumes the backend's event stream for the lifetime of the
// connection, forwarding each event to the sink without blocking prompt I/O.
func (m *Manager) pumpEvents() {
	defer close(m.pumpDone)

	for event := range m.backend.Events() {
		switch event.Kind {
		case EventTextDelta:
			m.cancelProgress()
			m.sink.StreamChunk(event.Text)
		case EventToolStart:
			m.cancelProgress()
			m.sink.ToolCall(event.ToolName, event.Payload)
		case EventToolResult:
			m.sink.ToolResult(event.ToolName, event.Payload)
		case EventCompleted:
			m.logger.DebugDomain("agent", "response completed (%d chars)", len(event.Text))
		case EventError:
			m.sink.Failure("backend event stream", event.Err)
		case EventUnknown:
			if !IsNoisy(event.RawKind) {
				m.logger.DebugDomain("agent", "unhandled event kind %q", event.RawKind)
			}
		}
	}
}

// SetProgress registers the indicator to cancel when output starts.
func (m *Manager) SetProgress(p Progress) {
	m.progressMu.Lock()
	m.progress = p
	m.progressMu.Unlock()
}

func (m *Manager) cancelProgress() {
	m.progressMu.Lock()
	p := m.progress
	m.progress = nil
	m.progressMu.Unlock()
	if p != nil {
		p.Cancel()
	}
}

// Plan runs a planning prompt on a fresh session and keeps that session for
// the build phase that follows.
func (m *Manager) Plan(ctx context.Context, prompt string) (string, error) {
	id, err := m.backend.CreateSession(ctx)
	if err != nil {
		return "", &BackendError{Msg: "create plan session", Cause: err}
	}

	response, err := m.backend.SendPrompt(ctx, id, prompt, m.model)
	if err != nil {
		m.discard(ctx, id)
		return "", err
	}

	m.mu.Lock()
	if m.buildSession != "" && m.buildSession != id {
		// Previous cycle's session; drop it before adopting the new one.
		old := m.buildSession
		m.mu.Unlock()
		m.discard(ctx, old)
		m.mu.Lock()
	}
	m.buildSession = id
	m.mu.Unlock()

	return response, nil
}

// Build runs a task prompt against the session established by Plan, so the
// agent keeps the planning context. A stale session is replaced transparently
// and the prompt retried once.
func (m *Manager) Build(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	id := m.buildSession
	m.mu.Unlock()

	if id == "" {
		fresh, err := m.backend.CreateSession(ctx)
		if err != nil {
			return "", &BackendError{Msg: "create build session", Cause: err}
		}
		m.mu.Lock()
		m.buildSession = fresh
		m.mu.Unlock()
		id = fresh
	}

	response, err := m.backend.SendPrompt(ctx, id, prompt, m.model)
	if err == nil {
		return response, nil
	}
	if !IsStaleSession(err) {
		return "", err
	}

	m.logger.Warn("build session %s is gone, opening a replacement", id)
	fresh, cerr := m.backend.CreateSession(ctx)
	if cerr != nil {
		return "", &BackendError{Msg: "recreate build session", Cause: cerr}
	}
	m.mu.Lock()
	m.buildSession = fresh
	m.mu.Unlock()

	return m.backend.SendPrompt(ctx, fresh, prompt, m.model)
}

// Eval runs an evaluation prompt on a fresh session, discarded afterwards.
func (m *Manager) Eval(ctx context.Context, prompt string) (string, error) {
	id, err := m.backend.CreateSession(ctx)
	if err != nil {
		return "", &BackendError{Msg: "create eval session", Cause: err}
	}
	defer m.discard(ctx, id)

	return m.backend.SendPrompt(ctx, id, prompt, m.model)
}

// SelectIdea runs an idea-selection prompt on a throwaway session. The close
// is best-effort in both directions; a failed close never fails selection.
func (m *Manager) SelectIdea(ctx context.Context, prompt string) (string, error) {
	id, err := m.backend.CreateSession(ctx)
	if err != nil {
		return "", &BackendError{Msg: "create selection session", Cause: err}
	}
	defer m.discard(ctx, id)

	return m.backend.SendPrompt(ctx, id, prompt, m.model)
}

// discard deletes a session best-effort; cleanup failures are logged at
// debug level only.
func (m *Manager) discard(ctx context.Context, id SessionID) {
	if id == "" {
		return
	}
	if err := m.backend.DeleteSession(ctx, id); err != nil {
		m.logger.DebugDomain("agent", "session %s cleanup: %v", id, err)
	}
}

// SessionRef returns the opaque handle of the live build session, for
// persisting into loop state.
func (m *Manager) SessionRef() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.buildSession)
}

// Restore adopts a session handle recovered from persisted state. If the
// backend no longer knows it, Build replaces it on first use.
func (m *Manager) Restore(ref string) {
	m.mu.Lock()
	m.buildSession = SessionID(ref)
	m.mu.Unlock()
}

// EndCycle drops the build session, so the next cycle starts clean.
func (m *Manager) EndCycle(ctx context.Context) {
	m.mu.Lock()
	id := m.buildSession
	m.buildSession = ""
	m.mu.Unlock()
	m.discard(ctx, id)
}

// Abort interrupts in-flight work on the build session.
func (m *Manager) Abort(ctx context.Context) {
	m.mu.Lock()
	id := m.buildSession
	m.mu.Unlock()
	if id == "" {
		return
	}
	if err := m.backend.AbortSession(ctx, id); err != nil {
		m.logger.DebugDomain("agent", "abort session %s: %v", id, err)
	}
}

// Close tears down the backend and waits for the event pump to drain.
func (m *Manager) Close() error {
	err := m.backend.Close()
	<-m.pumpDone
	return err
}
