package stream

import (
	"encoding/json"
	"strings"

	"github.com/fieldhand/agrichat/pkg/logger"
)

// EventKind discriminates decoded protocol events.
type EventKind string

const (
	EventText       EventKind = "text"
	EventThinking   EventKind = "thinking"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventComplete   EventKind = "complete"
	EventMeta       EventKind = "meta"
	EventError      EventKind = "error"
	EventDone       EventKind = "done"
)

// Event is one decoded protocol message extracted from a frame.
type Event struct {
	Kind        EventKind
	Text        string         // text and thinking payloads
	ToolName    string         // tool_call and tool_result payloads
	Response    string         // authoritative final text from a complete event
	HasResponse bool           // complete events may omit the response field
	Metadata    map[string]any // meta payload, last one wins
	Message     string         // error payload
}

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Decode parses one complete frame into an Event. The second return value is
// false for frames that must be dropped: unknown discriminators (forward
// compatibility) and malformed JSON. A bad frame never terminates the stream,
// so Decode logs and discards rather than returning an error.
func Decode(frame string) (Event, bool) {
	payload := strings.TrimSpace(frame)
	payload = strings.TrimSpace(strings.TrimPrefix(payload, dataPrefix))

	if payload == doneSentinel {
		return Event{Kind: EventDone}, true
	}

	var envelope struct {
		Type     string  `json:"type"`
		Text     string  `json:"text"`
		Thinking string  `json:"thinking"`
		ToolName string  `json:"toolName"`
		Response *string `json:"response"`
		Error    string  `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		logger.WithComponent("stream").Debugw("dropping malformed frame", "error", err, "len", len(payload))
		return Event{}, false
	}

	switch EventKind(envelope.Type) {
	case EventText:
		return Event{Kind: EventText, Text: envelope.Text}, true
	case EventThinking:
		return Event{Kind: EventThinking, Text: envelope.Thinking}, true
	case EventToolCall:
		return Event{Kind: EventToolCall, ToolName: envelope.ToolName}, true
	case EventToolResult:
		return Event{Kind: EventToolResult, ToolName: envelope.ToolName}, true
	case EventComplete:
		ev := Event{Kind: EventComplete}
		if envelope.Response != nil {
			ev.Response = *envelope.Response
			ev.HasResponse = true
		}
		return ev, true
	case EventMeta:
		var fields map[string]any
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			return Event{}, false
		}
		delete(fields, "type")
		return Event{Kind: EventMeta, Metadata: fields}, true
	case EventError:
		return Event{Kind: EventError, Message: envelope.Error}, true
	default:
		logger.WithComponent("stream").Debugw("ignoring unknown event type", "type", envelope.Type)
		return Event{}, false
	}
}
