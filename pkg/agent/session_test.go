package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devloop/pkg/logx"
)

// mockBackend records the calls the manager makes and serves canned
// responses per session.
type mockBackend struct {
	mu       sync.Mutex
	nextID   int
	created  []SessionID
	deleted  []SessionID
	aborted  []SessionID
	prompts  map[SessionID][]string
	response string
	// stale holds session IDs that fail with a stale-session error.
	stale map[SessionID]bool

	events chan Event
	closed bool
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		prompts:  make(map[SessionID][]string),
		stale:    make(map[SessionID]bool),
		response: "ok",
		events:   make(chan Event, 16),
	}
}

func (m *mockBackend) CreateSession(_ context.Context) (SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := SessionID(fmt.Sprintf("session-%d", m.nextID))
	m.created = append(m.created, id)
	return id, nil
}

func (m *mockBackend) SendPrompt(_ context.Context, id SessionID, prompt, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale[id] {
		return "", ErrNoActiveSession
	}
	m.prompts[id] = append(m.prompts[id], prompt)
	return m.response, nil
}

func (m *mockBackend) Events() <-chan Event { return m.events }

func (m *mockBackend) DeleteSession(_ context.Context, id SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockBackend) AbortSession(_ context.Context, id SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = append(m.aborted, id)
	return nil
}

func (m *mockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

// nullSink discards everything; tests only care about manager behavior.
type nullSink struct {
	mu     sync.Mutex
	chunks []string
}

func (s *nullSink) Phase(int, string, string)  {}
func (s *nullSink) Step(string)                {}
func (s *nullSink) ToolCall(string, string)    {}
func (s *nullSink) ToolResult(string, string)  {}
func (s *nullSink) Failure(string, error)      {}
func (s *nullSink) Alert(string, ...any)       {}
func (s *nullSink) StreamChunk(text string) {
	s.mu.Lock()
	s.chunks = append(s.chunks, text)
	s.mu.Unlock()
}

var _ logx.EventSink = (*nullSink)(nil)

func TestBuildReusesPlanSession(t *testing.T) {
	backend := newMockBackend()
	mgr := NewManager(backend, &nullSink{}, "")
	defer mgr.Close()

	_, err := mgr.Plan(context.Background(), "plan the work")
	require.NoError(t, err)
	planSession := SessionID(mgr.SessionRef())
	require.NotEmpty(t, planSession)

	_, err = mgr.Build(context.Background(), "do task 1")
	require.NoError(t, err)
	_, err = mgr.Build(context.Background(), "do task 2")
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Len(t, backend.created, 1)
	assert.Equal(t, []string{"plan the work", "do task 1", "do task 2"}, backend.prompts[planSession])
}

func TestEvalUsesFreshDiscardedSession(t *testing.T) {
	backend := newMockBackend()
	mgr := NewManager(backend, &nullSink{}, "")
	defer mgr.Close()

	_, err := mgr.Plan(context.Background(), "plan")
	require.NoError(t, err)
	planSession := SessionID(mgr.SessionRef())

	_, err = mgr.Eval(context.Background(), "is it done?")
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.created, 2)
	evalSession := backend.created[1]
	assert.NotEqual(t, planSession, evalSession)
	assert.Contains(t, backend.deleted, evalSession)
	assert.NotContains(t, backend.deleted, planSession)
}

func TestSelectIdeaUsesThrowawaySession(t *testing.T) {
	backend := newMockBackend()
	mgr := NewManager(backend, &nullSink{}, "")
	defer mgr.Close()

	_, err := mgr.SelectIdea(context.Background(), "pick one")
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.created, 1)
	assert.Equal(t, backend.created, backend.deleted)
	assert.Empty(t, mgr.SessionRef())
}

func TestBuildRecoversFromStaleSession(t *testing.T) {
	backend := newMockBackend()
	mgr := NewManager(backend, &nullSink{}, "")
	defer mgr.Close()

	mgr.Restore("session-from-a-past-life")
	backend.stale["session-from-a-past-life"] = true

	response, err := mgr.Build(context.Background(), "resume work")
	require.NoError(t, err)
	assert.Equal(t, "ok", response)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.created, 1)
	assert.Equal(t, []string{"resume work"}, backend.prompts[backend.created[0]])
	assert.Equal(t, string(backend.created[0]), mgr.SessionRef())
}

func TestPlanReplacesPreviousBuildSession(t *testing.T) {
	backend := newMockBackend()
	mgr := NewManager(backend, &nullSink{}, "")
	defer mgr.Close()

	_, err := mgr.Plan(context.Background(), "first cycle plan")
	require.NoError(t, err)
	first := SessionID(mgr.SessionRef())

	_, err = mgr.Plan(context.Background(), "second cycle plan")
	require.NoError(t, err)
	second := SessionID(mgr.SessionRef())

	assert.NotEqual(t, first, second)
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Contains(t, backend.deleted, first)
}

func TestEndCycleDropsSession(t *testing.T) {
	backend := newMockBackend()
	mgr := NewManager(backend, &nullSink{}, "")
	defer mgr.Close()

	_, err := mgr.Plan(context.Background(), "plan")
	require.NoError(t, err)
	id := SessionID(mgr.SessionRef())

	mgr.EndCycle(context.Background())
	assert.Empty(t, mgr.SessionRef())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Contains(t, backend.deleted, id)
}

type recordingProgress struct {
	cancelled chan struct{}
}

func (p *recordingProgress) Cancel() { close(p.cancelled) }

func TestTextDeltaCancelsProgress(t *testing.T) {
	backend := newMockBackend()
	sink := &nullSink{}
	mgr := NewManager(backend, sink, "")
	defer mgr.Close()

	progress := &recordingProgress{cancelled: make(chan struct{})}
	mgr.SetProgress(progress)

	backend.events <- Event{Kind: EventTextDelta, Text: "hello"}

	select {
	case <-progress.cancelled:
	case <-time.After(time.Second):
		t.Fatal("progress indicator was not cancelled by text delta")
	}

	// Second delta must not cancel again (channel already closed would panic).
	backend.events <- Event{Kind: EventTextDelta, Text: " world"}
	backend.Close()
	<-mgr.pumpDone

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"hello", " world"}, sink.chunks)
}

func TestAbortInterruptsBuildSession(t *testing.T) {
	backend := newMockBackend()
	mgr := NewManager(backend, &nullSink{}, "")
	defer mgr.Close()

	// Nothing to abort without a live session.
	mgr.Abort(context.Background())
	backend.mu.Lock()
	assert.Empty(t, backend.aborted)
	backend.mu.Unlock()

	_, err := mgr.Plan(context.Background(), "plan")
	require.NoError(t, err)
	id := SessionID(mgr.SessionRef())

	mgr.Abort(context.Background())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []SessionID{id}, backend.aborted)
}

func TestIsStaleSession(t *testing.T) {
	assert.True(t, IsStaleSession(ErrNoActiveSession))
	assert.True(t, IsStaleSession(fmt.Errorf("send: %w", ErrNoActiveSession)))
	assert.False(t, IsStaleSession(errors.New("rate limited")))
	assert.False(t, IsStaleSession(nil))
}
