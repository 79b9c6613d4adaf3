package stream

import (
	"log/slog"

	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

// Outcome tells the caller how an event affects the streaming status.
type Outcome int

// Reconciler outcomes.
const (
	Continue Outcome = iota
	Stopped          // message_stop.
	Failed           // error.
)

// Apply folds one event into the store.
//
// Text deltas and tool calls without a target message go to the trailing
// assistant message. A repeated tool_input with the same tool id replaces the
// earlier one, so progress labels update in place; with a target message the
// earlier call is looked up in every message. Results attach to their
// call wherever it lives. A message_start only creates a message when it
// names a role, which only the realtime channel does. Unknown types are
// ignored.
func Apply(s *chat.Store, ev Event) Outcome {
	switch ev.Type {
	case dto.EventTextDelta:
		if ev.MessageID != "" {
			if !s.UpdateTextByID(ev.MessageID, ev.Text) {
				slog.Debug("text for unknown message", "id", ev.MessageID)
			}
			return Continue
		}
		s.AppendTextDelta(chat.RoleAssistant, ev.Text)
	case dto.EventToolInput:
		if ev.MessageID != "" {
			s.ReplaceOrAppendByID(chat.RoleAssistant, ev.MessageID, ev.Block, chat.SameToolCall(ev.Block.ToolID))
			return Continue
		}
		s.ReplaceOrAppendMatching(chat.RoleAssistant, ev.Block, chat.SameToolCall(ev.Block.ToolID))
	case dto.EventToolResult:
		s.MergeResult(ev.Block)
	case dto.EventMessageStart:
		if ev.Role != "" && ev.MessageID != "" {
			s.CreateWithID(ev.Role, ev.MessageID)
		}
	case dto.EventMessageStop:
		return Stopped
	case dto.EventError:
		return Failed
	default:
		slog.Debug("ignoring event", "type", ev.Type)
	}
	return Continue
}
