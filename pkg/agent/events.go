package agent

// EventKind tags a backend event. The set is closed; anything else carries
// its raw tag in the Unknown variant for logging.
type EventKind string

const (
	// EventTextDelta is a chunk of assistant output text.
	EventTextDelta EventKind = "text_delta"
	// EventToolStart announces a tool invocation.
	EventToolStart EventKind = "tool_start"
	// EventToolResult carries the output of a tool invocation.
	EventToolResult EventKind = "tool_result"
	// EventCompleted marks the end of a response.
	EventCompleted EventKind = "completed"
	// EventError carries a backend-reported failure.
	EventError EventKind = "error"
	// EventUnknown is any tag outside the closed set.
	EventUnknown EventKind = "unknown"
)

// Event is one entry in the backend's live event stream.
type Event struct {
	Kind EventKind
	// RawKind preserves the original tag for unknown events.
	RawKind string
	// Text is the delta for text events and the aggregated text for
	// completion events.
	Text string
	// ToolName and Payload describe tool invocation events.
	ToolName string
	Payload  string
	// Err is set for error events.
	Err error
}

// noisyKinds are raw event tags that carry no information the loop wants:
// protocol chatter, token accounting, and block framing.
var noisyKinds = map[string]bool{
	"ping":                true,
	"usage":               true,
	"message_start":       true,
	"message_stop":        true,
	"content_block_start": true,
	"content_block_stop":  true,
	"thinking_delta":      true,
	"signature_delta":     true,
	"system":              true,
}

// IsNoisy reports whether a raw event tag should be dropped before dispatch.
func IsNoisy(rawKind string) bool {
	return noisyKinds[rawKind]
}

// KindFromTag maps a raw backend tag onto the closed event kind set.
func KindFromTag(rawKind string) EventKind {
	switch rawKind {
	case "text_delta", "content_block_delta", "text":
		return EventTextDelta
	case "tool_start", "tool_use":
		return EventToolStart
	case "tool_result":
		return EventToolResult
	case "completed", "message_delta", "result":
		return EventCompleted
	case "error":
		return EventError
	default:
		return EventUnknown
	}
}
