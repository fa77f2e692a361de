package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorTypeString(t *testing.T) {
	cases := map[ErrorType]string{
		ErrorTypeRateLimit:     "rate_limit",
		ErrorTypeTransient:     "transient",
		ErrorTypeEmptyResponse: "empty_response",
		ErrorTypeAuth:          "auth",
		ErrorTypeBadPrompt:     "bad_prompt",
		ErrorTypeStaleSession:  "stale_session",
		ErrorTypeUnknown:       "unknown",
	}
	for et, want := range cases {
		if got := et.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !ErrorTypeRateLimit.Retryable() || !ErrorTypeTransient.Retryable() || !ErrorTypeEmptyResponse.Retryable() {
		t.Error("Expected rate limit, transient, empty response to be retryable")
	}
	if ErrorTypeAuth.Retryable() || ErrorTypeBadPrompt.Retryable() || ErrorTypeStaleSession.Retryable() {
		t.Error("Expected auth, bad prompt, stale session to be non-retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewErrorWithCause(ErrorTypeTransient, cause, "wrapped")

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if TypeOf(fmt.Errorf("outer: %w", err)) != ErrorTypeTransient {
		t.Error("Expected TypeOf to see through wrapping")
	}
}

func TestTypeOfUnclassified(t *testing.T) {
	if TypeOf(errors.New("plain")) != ErrorTypeUnknown {
		t.Error("Expected plain errors to map to unknown")
	}
}

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		errStr string
		want   ErrorType
	}{
		{"request failed with status code: 429", ErrorTypeRateLimit},
		{"request failed with status code: 401", ErrorTypeAuth},
		{"request failed with status code: 400", ErrorTypeBadPrompt},
		{"request failed with status code: 404", ErrorTypeStaleSession},
		{"request failed with status code: 503", ErrorTypeTransient},
	}
	for _, c := range cases {
		got := Classify(errors.New(c.errStr))
		if got.Type != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.errStr, got.Type, c.want)
		}
	}
}

func TestClassifyPatterns(t *testing.T) {
	if Classify(errors.New("connection reset by peer")).Type != ErrorTypeTransient {
		t.Error("Expected connection errors to classify as transient")
	}
	if Classify(errors.New("quota exceeded for this month")).Type != ErrorTypeRateLimit {
		t.Error("Expected quota errors to classify as rate limit")
	}
	if Classify(errors.New("something inexplicable")).Type != ErrorTypeUnknown {
		t.Error("Expected unclassifiable errors to map to unknown")
	}
}

func TestClassifyContextErrors(t *testing.T) {
	if Classify(context.DeadlineExceeded).Type != ErrorTypeTransient {
		t.Error("Expected deadline to classify as transient")
	}
	if Classify(context.Canceled).Type != ErrorTypeTransient {
		t.Error("Expected cancellation to classify as transient")
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	original := NewError(ErrorTypeAuth, "bad key")
	if got := Classify(fmt.Errorf("wrapped: %w", original)); got != original {
		t.Error("Expected already-classified errors to pass through")
	}
}
