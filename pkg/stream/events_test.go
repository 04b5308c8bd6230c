package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("should decode every known event type", func(t *testing.T) {
		cases := []struct {
			frame string
			want  Event
		}{
			{`data: {"type":"text","text":"hello"}`, Event{Kind: EventText, Text: "hello"}},
			{`data: {"type":"thinking","thinking":"checking soil data"}`, Event{Kind: EventThinking, Text: "checking soil data"}},
			{`data: {"type":"tool_call","toolName":"weather"}`, Event{Kind: EventToolCall, ToolName: "weather"}},
			{`data: {"type":"tool_result","toolName":"weather"}`, Event{Kind: EventToolResult, ToolName: "weather"}},
			{`data: {"type":"complete","response":"final answer"}`, Event{Kind: EventComplete, Response: "final answer", HasResponse: true}},
			{`data: {"type":"error","error":"model overloaded"}`, Event{Kind: EventError, Message: "model overloaded"}},
		}

		for _, tc := range cases {
			got, ok := Decode(tc.frame)
			require.True(t, ok, "frame %q", tc.frame)
			assert.Equal(t, tc.want, got)
		}
	})

	t.Run("should decode the done sentinel", func(t *testing.T) {
		ev, ok := Decode("data: [DONE]")
		require.True(t, ok)
		assert.Equal(t, EventDone, ev.Kind)
	})

	t.Run("should decode meta payloads with type stripped", func(t *testing.T) {
		ev, ok := Decode(`data: {"type":"meta","toolsUsed":["weather"],"intent":"irrigation"}`)
		require.True(t, ok)
		assert.Equal(t, EventMeta, ev.Kind)
		assert.Equal(t, "irrigation", ev.Metadata["intent"])
		assert.NotContains(t, ev.Metadata, "type")
	})

	t.Run("should treat a complete event without response as empty", func(t *testing.T) {
		ev, ok := Decode(`data: {"type":"complete"}`)
		require.True(t, ok)
		assert.Equal(t, EventComplete, ev.Kind)
		assert.False(t, ev.HasResponse)
	})

	t.Run("should drop malformed json without panicking", func(t *testing.T) {
		for _, frame := range []string{
			`data: {"type":"text","text":`,
			`data: not json at all`,
			`data: `,
		} {
			_, ok := Decode(frame)
			assert.False(t, ok, "frame %q", frame)
		}
	})

	t.Run("should ignore unknown event types for forward compatibility", func(t *testing.T) {
		_, ok := Decode(`data: {"type":"shiny_new_event","payload":1}`)
		assert.False(t, ok)
	})
}
