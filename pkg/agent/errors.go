package agent

import (
	"errors"
	"fmt"

	"devloop/pkg/agent/llmerrors"
)

// Typed errors surfaced by the session lifecycle manager.
var (
	// ErrNoActiveSession indicates a prompt was sent against a session the
	// backend does not know.
	ErrNoActiveSession = errors.New("no active session")

	// ErrEmptyResponse indicates the backend returned without any content.
	ErrEmptyResponse = errors.New("empty response from backend")

	// ErrTerminatedBySignal indicates the agent process died from a signal.
	ErrTerminatedBySignal = errors.New("agent process terminated by signal")
)

// BackendError wraps a failure reported by the agent backend.
type BackendError struct {
	Cause error
	Msg   string
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend error: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("backend error: %s", e.Msg)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// ProcessExitError indicates the agent process exited non-zero.
type ProcessExitError struct {
	Code int
}

func (e *ProcessExitError) Error() string {
	return fmt.Sprintf("agent process exited with code %d", e.Code)
}

// IsStaleSession reports whether the error means the backend no longer
// knows the referenced session, which is recovered by opening a new one.
func IsStaleSession(err error) bool {
	if errors.Is(err, ErrNoActiveSession) {
		return true
	}
	return llmerrors.TypeOf(err) == llmerrors.ErrorTypeStaleSession
}
