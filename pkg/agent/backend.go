// Package agent provides the coding-agent backend interface and the session
// lifecycle manager that drives each remote interaction.
package agent

import (
	"context"
)

// SessionID is an opaque handle for one conversation with the backend.
type SessionID string

// Backend is one logical connection to a coding-agent service. Two
// implementations exist: the API backend (provider SDK, client-side message
// history) and the CLI backend (external agent executable).
type Backend interface {
	// CreateSession opens a new conversation and returns its handle.
	CreateSession(ctx context.Context) (SessionID, error)

	// SendPrompt sends text into a session and returns the aggregated
	// response. The model spec may be empty to use the backend default.
	SendPrompt(ctx context.Context, id SessionID, prompt, model string) (string, error)

	// Events returns the backend's live event stream. The channel is
	// closed when the backend shuts down.
	Events() <-chan Event

	// DeleteSession discards a session and its server-side resources.
	DeleteSession(ctx context.Context, id SessionID) error

	// AbortSession interrupts any in-flight work on a session.
	AbortSession(ctx context.Context, id SessionID) error

	// Close tears the backend down, releasing all sessions.
	Close() error
}
