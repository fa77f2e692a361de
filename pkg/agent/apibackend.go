package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"devloop/pkg/agent/llm"
	"devloop/pkg/utils"
)

// APIBackend implements Backend over a provider SDK client. Sessions are
// client-side: each holds the message history replayed on every prompt.
type APIBackend struct {
	client    llm.Client
	counter   *utils.TokenCounter
	maxTokens int // prompt budget; 0 disables

	mu       sync.Mutex
	sessions map[SessionID][]llm.CompletionMessage

	events chan Event
	closed bool
}

// NewAPIBackend creates a backend over the given completion client.
// maxPromptTokens bounds the replayed history; oldest turns are dropped
// when the budget is exceeded.
func NewAPIBackend(client llm.Client, maxPromptTokens int) *APIBackend {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		counter = nil // falls back to character estimation
	}
	return &APIBackend{
		client:    client,
		counter:   counter,
		maxTokens: maxPromptTokens,
		sessions:  make(map[SessionID][]llm.CompletionMessage),
		events:    make(chan Event, 64),
	}
}

// CreateSession opens a new client-side conversation.
func (b *APIBackend) CreateSession(_ context.Context) (SessionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", &BackendError{Msg: "backend is closed"}
	}

	id := SessionID(uuid.NewString())
	b.sessions[id] = nil
	return id, nil
}

// SendPrompt appends the prompt to the session history, runs a completion,
// and returns the aggregated response text. Stream chunks are forwarded to
// the event channel as they arrive.
func (b *APIBackend) SendPrompt(ctx context.Context, id SessionID, prompt, model string) (string, error) {
	b.mu.Lock()
	history, ok := b.sessions[id]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("session %s: %w", id, ErrNoActiveSession)
	}
	if model != "" && model != b.client.ModelName() {
		// Model spec is fixed per client; a mismatch is a config error,
		// not worth failing a phase over.
		b.emit(Event{Kind: EventUnknown, RawKind: "model_override_ignored", Payload: model})
	}

	messages := append(append([]llm.CompletionMessage{}, history...), llm.NewUserMessage(prompt))
	messages = b.trimToBudget(messages)

	stream, err := b.client.Stream(ctx, llm.NewCompletionRequest(messages))
	if err != nil {
		return "", err
	}

	var aggregated string
	for chunk := range stream {
		if chunk.Error != nil {
			b.emit(Event{Kind: EventError, Err: chunk.Error})
			return "", chunk.Error
		}
		if chunk.Content != "" {
			aggregated += chunk.Content
			b.emit(Event{Kind: EventTextDelta, Text: chunk.Content})
		}
		if chunk.Done {
			break
		}
	}

	if aggregated == "" {
		return "", fmt.Errorf("session %s: %w", id, ErrEmptyResponse)
	}
	b.emit(Event{Kind: EventCompleted, Text: aggregated})

	b.mu.Lock()
	if _, stillThere := b.sessions[id]; stillThere {
		b.sessions[id] = append(messages, llm.NewAssistantMessage(aggregated))
	}
	b.mu.Unlock()

	return aggregated, nil
}

// trimToBudget drops oldest turns until the replayed history fits the
// prompt budget. The last message (the new prompt) is always kept; when that
// prompt alone exceeds the whole budget it is truncated rather than sent to
// fail at the provider.
func (b *APIBackend) trimToBudget(messages []llm.CompletionMessage) []llm.CompletionMessage {
	if b.maxTokens <= 0 || len(messages) == 0 {
		return messages
	}

	for len(messages) > 1 {
		total := 0
		for i := range messages {
			total += b.counter.CountTokens(messages[i].Content)
		}
		if total <= b.maxTokens {
			break
		}
		messages = messages[1:]
	}

	last := len(messages) - 1
	if !b.counter.WithinLimit(messages[last].Content, b.maxTokens) {
		messages[last].Content = b.counter.TruncateToLimit(messages[last].Content, b.maxTokens)
	}
	return messages
}

// Events returns the live event stream.
func (b *APIBackend) Events() <-chan Event {
	return b.events
}

// DeleteSession discards the session history.
func (b *APIBackend) DeleteSession(_ context.Context, id SessionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrNoActiveSession)
	}
	delete(b.sessions, id)
	return nil
}

// AbortSession discards the session; for the API backend in-flight work is
// cancelled by the caller's context, so abort and delete coincide.
func (b *APIBackend) AbortSession(ctx context.Context, id SessionID) error {
	return b.DeleteSession(ctx, id)
}

// Close shuts the backend down and closes the event stream.
func (b *APIBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.sessions = make(map[SessionID][]llm.CompletionMessage)
	close(b.events)
	return nil
}

// HasSession reports whether the backend still knows the given session.
func (b *APIBackend) HasSession(id SessionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[id]
	return ok
}

func (b *APIBackend) emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- event:
	default:
		// Event consumers must never block a prompt; drop on overflow.
	}
}
