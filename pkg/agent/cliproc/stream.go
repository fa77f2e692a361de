package cliproc

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"devloop/pkg/agent"
)

// wireEvent is one line of the executable's stream-json output.
type wireEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// wireMessage is the assistant payload carried by "assistant" events.
type wireMessage struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// Content carries tool_result output; the executable emits either a
	// bare string or structured blocks, so keep it raw.
	Content json.RawMessage `json:"content,omitempty"`
	ToolID  string          `json:"tool_use_id,omitempty"`
}

// streamCollector turns stream-json lines into backend events and
// accumulates the final result.
type streamCollector struct {
	emit func(agent.Event)

	mu      sync.Mutex
	session string
	text    strings.Builder
	final   string
	errored bool
	errText string
}

func newStreamCollector(emit func(agent.Event)) *streamCollector {
	return &streamCollector{emit: emit}
}

// consume parses one stdout line. Non-JSON lines are relayed as raw text so
// a misconfigured executable still produces visible output.
func (c *streamCollector) consume(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if !strings.HasPrefix(trimmed, "{") {
		c.emit(agent.Event{Kind: agent.EventTextDelta, Text: line + "\n"})
		c.mu.Lock()
		c.text.WriteString(line)
		c.text.WriteString("\n")
		c.mu.Unlock()
		return
	}

	var event wireEvent
	if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
		c.emit(agent.Event{Kind: agent.EventUnknown, RawKind: "unparseable", Payload: trimmed})
		return
	}

	if event.SessionID != "" {
		c.mu.Lock()
		c.session = event.SessionID
		c.mu.Unlock()
	}

	switch event.Type {
	case "assistant":
		c.consumeAssistant(event.Message)
	case "user":
		c.consumeToolResults(event.Message)
	case "result":
		c.mu.Lock()
		c.final = event.Result
		c.errored = event.IsError
		if event.IsError {
			c.errText = event.Result
			if c.errText == "" {
				c.errText = event.Subtype
			}
		}
		c.mu.Unlock()
		if event.IsError {
			c.emit(agent.Event{Kind: agent.EventError, Err: fmt.Errorf("agent result: %s", event.Result)})
		} else {
			c.emit(agent.Event{Kind: agent.EventCompleted, Text: event.Result})
		}
	default:
		if agent.IsNoisy(event.Type) {
			return
		}
		kind := agent.KindFromTag(event.Type)
		if kind == agent.EventUnknown {
			c.emit(agent.Event{Kind: agent.EventUnknown, RawKind: event.Type})
		}
	}
}

func (c *streamCollector) consumeAssistant(raw json.RawMessage) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			c.mu.Lock()
			c.text.WriteString(block.Text)
			c.mu.Unlock()
			c.emit(agent.Event{Kind: agent.EventTextDelta, Text: block.Text})
		case "tool_use":
			c.emit(agent.Event{Kind: agent.EventToolStart, ToolName: block.Name, Payload: string(block.Input)})
		}
	}
}

func (c *streamCollector) consumeToolResults(raw json.RawMessage) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	for _, block := range msg.Content {
		if block.Type != "tool_result" {
			continue
		}
		payload := string(block.Content)
		var asString string
		if json.Unmarshal(block.Content, &asString) == nil {
			payload = asString
		}
		c.emit(agent.Event{Kind: agent.EventToolResult, ToolName: block.ToolID, Payload: payload})
	}
}

// sessionID returns the conversation id the executable reported, if any.
func (c *streamCollector) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// result returns the final text: the explicit result event when present,
// otherwise the accumulated assistant text.
func (c *streamCollector) result() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final != "" {
		return c.final
	}
	return c.text.String()
}

func (c *streamCollector) failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errored
}

func (c *streamCollector) errorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errText
}
