// Server-sent event records of the task event stream.
package dto

import "encoding/json"

// EventType identifies a task event.
type EventType = string

// Task event types.
const (
	EventTextDelta    EventType = "text_delta"
	EventToolInput    EventType = "tool_input"
	EventToolResult   EventType = "tool_result"
	EventMessageStart EventType = "message_start"
	EventMessageStop  EventType = "message_stop"
	EventError        EventType = "error"
)

// TaskEvent is one record of the task event stream. Type determines which
// fields are set:
//   - text_delta: Text, optionally MessageID.
//   - tool_input: ToolID, ToolName, ToolInput, optionally MessageID.
//   - tool_result: ToolID, ToolResult, IsError.
//   - message_start: MessageID, Role.
//   - error: Error.
type TaskEvent struct {
	Type       EventType       `json:"type"`
	MessageID  string          `json:"message_id,omitempty"`
	Role       string          `json:"role,omitempty"`
	Text       string          `json:"text,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Error      string          `json:"error_message,omitempty"`
}
