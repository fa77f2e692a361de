package logx

import (
	"errors"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if logger.GetComponent() != "test-component" {
		t.Errorf("Expected component 'test-component', got %s", logger.GetComponent())
	}
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger("loop")
	child := logger.WithComponent("agent")

	if child.GetComponent() != "agent" {
		t.Errorf("Expected component 'agent', got %s", child.GetComponent())
	}
	if logger.GetComponent() != "loop" {
		t.Error("Original logger component should be unchanged")
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(true, []string{"loop"})
	defer SetDebug(false, nil)

	if !IsDebugEnabledForDomain("loop") {
		t.Error("Expected loop domain to be enabled")
	}
	if IsDebugEnabledForDomain("agent") {
		t.Error("Expected agent domain to be disabled")
	}

	// No domain filter means all domains.
	SetDebug(true, nil)
	if !IsDebugEnabledForDomain("agent") {
		t.Error("Expected all domains enabled without filter")
	}
}

func TestRingBufferCapsEntries(t *testing.T) {
	buffer := &RingBuffer{maxSize: 3}
	for i := 0; i < 5; i++ {
		buffer.Add(&Entry{Level: "INFO", Message: "m"})
	}

	entries := buffer.Recent("")
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries after overflow, got %d", len(entries))
	}
}

func TestRingBufferLevelFilter(t *testing.T) {
	buffer := &RingBuffer{maxSize: 10}
	buffer.Add(&Entry{Level: "INFO", Message: "info"})
	buffer.Add(&Entry{Level: "ALERT", Message: "alert"})

	alerts := buffer.Recent("ALERT")
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert entry, got %d", len(alerts))
	}
	if alerts[0].Message != "alert" {
		t.Errorf("Expected alert message, got %s", alerts[0].Message)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Expected nil error to pass through unwrapped")
	}

	base := errors.New("boom")
	wrapped := Wrap(base, "setup failed")
	if wrapped == nil {
		t.Fatal("Expected wrapped error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Expected wrapped error to unwrap to the original")
	}
	if wrapped.Error() != "setup failed: boom" {
		t.Errorf("Unexpected message: %q", wrapped.Error())
	}
}

func TestTruncateForLog(t *testing.T) {
	short := truncateForLog("hello\nworld")
	if short != "hello world" {
		t.Errorf("Expected newline replaced, got %q", short)
	}

	long := make([]byte, maxLoggedPayload+50)
	for i := range long {
		long[i] = 'x'
	}
	truncated := truncateForLog(string(long))
	if len(truncated) != maxLoggedPayload+3 {
		t.Errorf("Expected truncation to %d chars, got %d", maxLoggedPayload+3, len(truncated))
	}
}
