package logx

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// EventSink is the narrow interface the loop and session manager log through.
// The core never formats timestamps or colors; that is the sink's job.
type EventSink interface {
	Phase(cycle int, phase, detail string)
	Step(description string)
	ToolCall(name, input string)
	ToolResult(name, output string)
	StreamChunk(text string)
	Failure(context string, err error)
	Alert(format string, args ...any)
}

// ConsoleSink writes loop events to stderr via a Logger and echoes stream
// chunks to stdout. Chunks are echoed raw on a TTY and line-buffered when
// output is redirected, so piped logs stay line-oriented.
type ConsoleSink struct {
	logger  *Logger
	isTTY   bool
	pending strings.Builder
	mutex   sync.Mutex
}

// NewConsoleSink creates a sink logging under the given component name.
func NewConsoleSink(component string) *ConsoleSink {
	return &ConsoleSink{
		logger: NewLogger(component),
		isTTY:  term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (s *ConsoleSink) Phase(cycle int, phase, detail string) {
	if detail != "" {
		s.logger.Info("cycle %d phase %s: %s", cycle, phase, detail)
		return
	}
	s.logger.Info("cycle %d phase %s", cycle, phase)
}

func (s *ConsoleSink) Step(description string) {
	s.logger.Info("step: %s", description)
}

func (s *ConsoleSink) ToolCall(name, input string) {
	s.logger.DebugDomain("agent", "tool call %s: %s", name, truncateForLog(input))
}

func (s *ConsoleSink) ToolResult(name, output string) {
	s.logger.DebugDomain("agent", "tool result %s: %s", name, truncateForLog(output))
}

func (s *ConsoleSink) StreamChunk(text string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isTTY {
		fmt.Fprint(os.Stdout, text)
		return
	}

	// Accumulate until a newline so redirected output stays line-oriented.
	s.pending.WriteString(text)
	for {
		buffered := s.pending.String()
		idx := strings.IndexByte(buffered, '\n')
		if idx < 0 {
			return
		}
		fmt.Fprintln(os.Stdout, buffered[:idx])
		s.pending.Reset()
		s.pending.WriteString(buffered[idx+1:])
	}
}

func (s *ConsoleSink) Failure(context string, err error) {
	s.logger.Error("%s: %v", context, err)
}

func (s *ConsoleSink) Alert(format string, args ...any) {
	s.logger.Alert(format, args...)
}

// Flush writes any partially buffered stream line.
func (s *ConsoleSink) Flush() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.pending.Len() > 0 {
		fmt.Fprintln(os.Stdout, s.pending.String())
		s.pending.Reset()
	}
}

const maxLoggedPayload = 200

func truncateForLog(payload string) string {
	payload = strings.ReplaceAll(payload, "\n", " ")
	if len(payload) > maxLoggedPayload {
		return payload[:maxLoggedPayload] + "..."
	}
	return payload
}
