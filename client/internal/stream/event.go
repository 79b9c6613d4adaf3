// Package stream turns task event streams into conversation updates. It holds
// the reconciler, the session controller guarding against stale streams, and
// the SSE and realtime transports.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

// Event is a decoded and validated task event.
type Event struct {
	Type      dto.EventType
	MessageID string     // Optional target message.
	Role      chat.Role  // message_start.
	Text      string     // text_delta.
	Block     chat.Block // tool_input, tool_result.
	Err       string     // error.
}

// Decode parses one event record.
func Decode(data []byte) (Event, error) {
	var te dto.TaskEvent
	if err := json.Unmarshal(data, &te); err != nil {
		return Event{}, err
	}
	return FromTaskEvent(&te)
}

// FromTaskEvent validates a wire event. Tool payloads are parsed into their
// typed shape here so that nothing downstream sees a raw payload.
func FromTaskEvent(te *dto.TaskEvent) (Event, error) {
	ev := Event{Type: te.Type, MessageID: te.MessageID}
	switch te.Type {
	case dto.EventTextDelta:
		ev.Text = te.Text
	case dto.EventToolInput:
		if te.ToolID == "" {
			return Event{}, fmt.Errorf("%s without tool_id", te.Type)
		}
		in, err := chat.ParseToolInput(te.ToolName, te.ToolInput)
		if err != nil {
			return Event{}, fmt.Errorf("tool %q: %w", te.ToolID, err)
		}
		ev.Block = chat.ToolCall(te.ToolID, in)
	case dto.EventToolResult:
		if te.ToolID == "" {
			return Event{}, fmt.Errorf("%s without tool_id", te.Type)
		}
		ev.Block = chat.ToolResult(te.ToolID, te.ToolResult, te.IsError)
	case dto.EventMessageStart:
		ev.Role = chat.Role(te.Role)
	case dto.EventError:
		ev.Err = te.Error
		if ev.Err == "" {
			ev.Err = "unknown error"
		}
	}
	return ev, nil
}
