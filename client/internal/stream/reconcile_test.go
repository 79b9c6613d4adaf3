package stream

import (
	"reflect"
	"testing"

	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

func TestApply(t *testing.T) {
	t.Run("Turn", func(t *testing.T) {
		s := chat.NewStore()
		s.Replace([]chat.Message{
			{ID: "a0", Role: chat.RoleAssistant, Content: []chat.Block{chat.Text("earlier")}},
			{ID: "u1", Role: chat.RoleUser, Content: []chat.Block{chat.Text("list files")}},
		})
		call := chat.ToolCall("a", chat.BashInput{Command: "ls"})
		events := []Event{
			{Type: dto.EventMessageStart},
			{Type: dto.EventToolInput, Block: call},
			{Type: dto.EventTextDelta, Text: "Hello"},
			{Type: dto.EventTextDelta, Text: " world"},
			{Type: dto.EventToolResult, Block: chat.ToolResult("a", "a.go", false)},
		}
		for _, ev := range events {
			if got := Apply(s, ev); got != Continue {
				t.Fatalf("Apply(%s) = %d, want Continue", ev.Type, got)
			}
		}
		if got := Apply(s, Event{Type: dto.EventMessageStop}); got != Stopped {
			t.Errorf("got %d, want Stopped", got)
		}
		msgs := s.Messages()
		if len(msgs) != 3 {
			t.Fatalf("len = %d, want 3", len(msgs))
		}
		want := []chat.Block{call, chat.Text("Hello world"), chat.ToolResult("a", "a.go", false)}
		if !reflect.DeepEqual(msgs[2].Content, want) {
			t.Errorf("got %+v\nwant %+v", msgs[2].Content, want)
		}
		items := chat.Project(msgs[2:])
		if len(items) != 2 {
			t.Fatalf("len = %d, want 2", len(items))
		}
		if items[0].Running() {
			t.Error("tool still running")
		}
		if items[1].Text != "Hello world" {
			t.Errorf("got %q, want %q", items[1].Text, "Hello world")
		}
	})
	t.Run("SetupProgress", func(t *testing.T) {
		s := chat.NewStore()
		for _, label := range []string{"Cloning repository", "Installing dependencies"} {
			Apply(s, Event{Type: dto.EventToolInput, Block: chat.ToolCall(chat.SetupToolID, chat.SetupInput(label))})
		}
		c := s.Messages()[1].Content
		if len(c) != 1 || c[0].Input != chat.SetupInput("Installing dependencies") {
			t.Errorf("got %+v", c)
		}
	})
	t.Run("UnmatchedResult", func(t *testing.T) {
		s := chat.NewStore()
		before := s.Snapshot()
		Apply(s, Event{Type: dto.EventToolResult, Block: chat.ToolResult("ghost", "x", false)})
		if got := s.Snapshot(); got.Version != before.Version {
			t.Errorf("version = %d, want %d", got.Version, before.Version)
		}
	})
	t.Run("Error", func(t *testing.T) {
		s := chat.NewStore()
		if got := Apply(s, Event{Type: dto.EventError, Err: "boom"}); got != Failed {
			t.Errorf("got %d, want Failed", got)
		}
	})
	t.Run("Unknown", func(t *testing.T) {
		s := chat.NewStore()
		if got := Apply(s, Event{Type: "ping"}); got != Continue {
			t.Errorf("got %d, want Continue", got)
		}
		if s.Snapshot().Version != 0 {
			t.Error("store changed")
		}
	})
	t.Run("TargetedMessage", func(t *testing.T) {
		s := chat.NewStore()
		Apply(s, Event{Type: dto.EventMessageStart, MessageID: "item_1", Role: chat.RoleUser})
		Apply(s, Event{Type: dto.EventTextDelta, MessageID: "item_1", Text: "hi"})
		Apply(s, Event{Type: dto.EventToolInput, MessageID: "item_2", Block: chat.ToolCall("c", chat.BashInput{Command: "pwd"})})
		msgs := s.Messages()
		if len(msgs) != 4 {
			t.Fatalf("len = %d, want 4", len(msgs))
		}
		if msgs[2].ID != "item_1" || msgs[2].Content[0].Text != "hi" {
			t.Errorf("got %+v", msgs[2])
		}
		if msgs[3].ID != "item_2" || msgs[3].Role != chat.RoleAssistant {
			t.Errorf("got %+v", msgs[3])
		}
	})
	t.Run("RepeatedTargetedCall", func(t *testing.T) {
		s := chat.NewStore()
		Apply(s, Event{Type: dto.EventToolInput, MessageID: "item_2", Block: chat.ToolCall("c", chat.BashInput{Command: "pwd"})})
		Apply(s, Event{Type: dto.EventMessageStart, MessageID: "item_3", Role: chat.RoleAssistant})
		Apply(s, Event{Type: dto.EventTextDelta, MessageID: "item_3", Text: "done"})
		again := chat.ToolCall("c", chat.BashInput{Command: "pwd -P"})
		Apply(s, Event{Type: dto.EventToolInput, MessageID: "item_2", Block: again})
		msgs := s.Messages()
		if len(msgs) != 4 {
			t.Fatalf("len = %d, want 4", len(msgs))
		}
		if got := msgs[2].Content; len(got) != 1 || !reflect.DeepEqual(got[0], again) {
			t.Errorf("got %+v", got)
		}
		if got := msgs[3].Content; len(got) != 1 || got[0].Text != "done" {
			t.Errorf("got %+v", got)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("ToolInput", func(t *testing.T) {
		ev, err := Decode([]byte(`{"type":"tool_input","tool_id":"x","tool_name":"str_replace_based_edit_tool","tool_input":{"command":"create","path":"/a","file_text":"hi"}}`))
		if err != nil {
			t.Fatal(err)
		}
		want := chat.EditCreate{Path: "/a", FileText: "hi"}
		if ev.Block.Input != want {
			t.Errorf("got %+v, want %+v", ev.Block.Input, want)
		}
	})
	t.Run("Invalid", func(t *testing.T) {
		for _, data := range []string{
			`{"type":"tool_input","tool_name":"bash","tool_input":{"command":"ls"}}`,
			`{"type":"tool_input","tool_id":"x","tool_name":"bash","tool_input":"ls"}`,
			`{"type":"tool_result"}`,
			`not json`,
		} {
			if _, err := Decode([]byte(data)); err == nil {
				t.Errorf("%s: expected error", data)
			}
		}
	})
	t.Run("MessageStartWithoutRole", func(t *testing.T) {
		ev, err := Decode([]byte(`{"type":"message_start"}`))
		if err != nil {
			t.Fatal(err)
		}
		if ev.Role != "" {
			t.Errorf("role = %q", ev.Role)
		}
	})
}
