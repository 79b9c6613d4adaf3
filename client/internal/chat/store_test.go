package chat

import (
	"reflect"
	"testing"
	"time"
)

func twoTurns() []Message {
	return []Message{
		{ID: "u1", Role: RoleUser, Content: []Block{Text("hi")}},
		{ID: "a1", Role: RoleAssistant, Content: []Block{Text("hello")}},
	}
}

func TestAppend(t *testing.T) {
	t.Run("SameRole", func(t *testing.T) {
		s := NewStore()
		s.Replace(twoTurns())
		before := s.Messages()
		s.Append(RoleAssistant, Text("more"))
		got := s.Messages()
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if n := len(got[1].Content); n != 2 {
			t.Errorf("content len = %d, want 2", n)
		}
		if n := len(before[1].Content); n != 1 {
			t.Errorf("previous snapshot changed: content len = %d, want 1", n)
		}
	})
	t.Run("OtherRole", func(t *testing.T) {
		s := NewStore()
		s.Replace(twoTurns())
		s.Append(RoleUser, Text("again"))
		got := s.Messages()
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if got[2].Role != RoleUser || got[2].ID == "" {
			t.Errorf("got %+v", got[2])
		}
	})
}

func TestAppendOrCreateWithID(t *testing.T) {
	t.Run("Existing", func(t *testing.T) {
		s := NewStore()
		s.Replace(twoTurns())
		s.AppendOrCreateWithID(RoleAssistant, "u1", Text("x"))
		got := s.Messages()
		if len(got) != 2 || len(got[0].Content) != 2 {
			t.Fatalf("got %+v", got)
		}
	})
	t.Run("New", func(t *testing.T) {
		s := NewStore()
		s.Replace([]Message{
			{ID: "a1", Role: RoleAssistant, Content: []Block{Text("hello")}},
			{ID: "u1", Role: RoleUser, Content: []Block{Text("hi")}},
		})
		s.AppendOrCreateWithID(RoleAssistant, "item_9", ToolCall("c1", BashInput{Command: "ls"}))
		got := s.Messages()
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if got[2].ID != "item_9" {
			t.Errorf("id = %q, want %q", got[2].ID, "item_9")
		}
	})
}

func TestReplaceOrAppendMatching(t *testing.T) {
	s := NewStore()
	s.ReplaceOrAppendMatching(RoleAssistant, ToolCall(SetupToolID, SetupInput("Cloning")), SameToolCall(SetupToolID))
	got := s.Messages()
	if len(got) != 2 || len(got[1].Content) != 1 {
		t.Fatalf("got %+v", got)
	}
	if in := got[1].Content[0].Input; in != SetupInput("Cloning") {
		t.Errorf("got %v, want %v", in, SetupInput("Cloning"))
	}
	s.ReplaceOrAppendMatching(RoleAssistant, ToolCall("other", SetupInput("x")), SameToolCall("other"))
	if n := len(s.Messages()[1].Content); n != 2 {
		t.Errorf("content len = %d, want 2", n)
	}
}

func TestMergeResult(t *testing.T) {
	s := NewStore()
	s.Append(RoleAssistant, ToolCall("t1", BashInput{Command: "ls"}))
	t.Run("Matched", func(t *testing.T) {
		if !s.MergeResult(ToolResult("t1", "ok", false)) {
			t.Fatal("expected merge")
		}
		c := s.Messages()[1].Content
		if last := c[len(c)-1]; last.Type != BlockToolResult || last.Result != "ok" {
			t.Errorf("got %+v", last)
		}
	})
	t.Run("Idempotent", func(t *testing.T) {
		v := s.Snapshot().Version
		if s.MergeResult(ToolResult("t1", "again", false)) {
			t.Error("duplicate merged")
		}
		if got := s.Snapshot().Version; got != v {
			t.Errorf("version = %d, want %d", got, v)
		}
	})
	t.Run("Unmatched", func(t *testing.T) {
		before := s.Messages()
		if s.MergeResult(ToolResult("nope", "x", true)) {
			t.Error("unmatched result merged")
		}
		if !reflect.DeepEqual(before, s.Messages()) {
			t.Error("store changed")
		}
	})
	t.Run("UserHeldCall", func(t *testing.T) {
		u := NewStore()
		u.Replace([]Message{{ID: "u1", Role: RoleUser, Content: []Block{ToolCall("t9", BashInput{Command: "ls"})}}})
		v := u.Snapshot().Version
		if u.MergeResult(ToolResult("t9", "ok", false)) {
			t.Error("result merged into a user message")
		}
		if got := u.Snapshot().Version; got != v {
			t.Errorf("version = %d, want %d", got, v)
		}
	})
}

func TestReplaceOrAppendByID(t *testing.T) {
	t.Run("ReplacesInEarlierMessage", func(t *testing.T) {
		s := NewStore()
		s.Replace([]Message{
			{ID: "item_2", Role: RoleAssistant, Content: []Block{Text("sure"), ToolCall("c1", BashInput{Command: "ls"})}},
			{ID: "item_3", Role: RoleAssistant, Content: []Block{Text("next")}},
		})
		again := ToolCall("c1", BashInput{Command: "ls -a"})
		s.ReplaceOrAppendByID(RoleAssistant, "item_3", again, SameToolCall("c1"))
		got := s.Messages()
		if len(got) != 2 || len(got[0].Content) != 2 || len(got[1].Content) != 1 {
			t.Fatalf("got %+v", got)
		}
		if !reflect.DeepEqual(got[0].Content[1], again) {
			t.Errorf("got %+v, want %+v", got[0].Content[1], again)
		}
	})
	t.Run("Creates", func(t *testing.T) {
		s := NewStore()
		s.ReplaceOrAppendByID(RoleAssistant, "item_4", ToolCall("c2", BashInput{Command: "pwd"}), SameToolCall("c2"))
		got := s.Messages()
		last := got[len(got)-1]
		if last.ID != "item_4" || last.Role != RoleAssistant || len(last.Content) != 1 || last.Content[0].ToolID != "c2" {
			t.Errorf("got %+v", last)
		}
	})
}

func TestAppendTextDelta(t *testing.T) {
	t.Run("Extends", func(t *testing.T) {
		s := NewStore()
		s.Replace(twoTurns())
		s.AppendTextDelta(RoleAssistant, " world")
		if got := s.Messages()[1].Content[0].Text; got != "hello world" {
			t.Errorf("got %q, want %q", got, "hello world")
		}
	})
	t.Run("AfterTool", func(t *testing.T) {
		s := NewStore()
		s.AppendTextDelta(RoleAssistant, "Hi")
		c := s.Messages()[1].Content
		if len(c) != 2 || c[1].Text != "Hi" {
			t.Errorf("got %+v", c)
		}
	})
	t.Run("NewMessage", func(t *testing.T) {
		s := NewStore()
		s.AddUserText("question")
		s.AppendTextDelta(RoleAssistant, "answer")
		got := s.Messages()
		if len(got) != 4 || got[3].Role != RoleAssistant || got[3].Content[0].Text != "answer" {
			t.Errorf("got %+v", got)
		}
	})
}

func TestUpdateTextByID(t *testing.T) {
	s := NewStore()
	s.CreateWithID(RoleUser, "item_1")
	if !s.UpdateTextByID("item_1", "Hel") || !s.UpdateTextByID("item_1", "lo") {
		t.Fatal("update failed")
	}
	got := s.Messages()[2]
	if len(got.Content) != 1 || got.Content[0].Text != "Hello" {
		t.Errorf("got %+v", got.Content)
	}
	if s.UpdateTextByID("missing", "x") {
		t.Error("update of missing message succeeded")
	}
	if s.CreateWithID(RoleUser, "item_1") {
		t.Error("duplicate id created")
	}
}

func TestReplaceAndReset(t *testing.T) {
	s := NewStore()
	if s.Replace([]Message{{ID: "x", Role: RoleUser}}) {
		t.Error("single message history replaced seed")
	}
	if s.Replace(nil) {
		t.Error("empty history replaced seed")
	}
	if !s.Replace(twoTurns()) {
		t.Fatal("replace failed")
	}
	if got := s.Messages()[0].ID; got != "u1" {
		t.Errorf("got %q, want u1", got)
	}
	s.Reset()
	if got := s.Messages(); !reflect.DeepEqual(got, Seed()) {
		t.Errorf("got %+v", got)
	}
}

func TestSetUserPrompt(t *testing.T) {
	s := NewStore()
	if !s.SetUserPrompt("fix the bug") {
		t.Fatal("not set")
	}
	if got := s.Messages()[0].Content[0].Text; got != "fix the bug" {
		t.Errorf("got %q", got)
	}
	if s.SetUserPrompt("other") {
		t.Error("prompt overwritten")
	}
}

func TestSubscribe(t *testing.T) {
	s := NewStore()
	cur, ch := s.Subscribe(t.Context())
	if cur.Version != 0 {
		t.Errorf("version = %d, want 0", cur.Version)
	}
	s.AppendTextDelta(RoleAssistant, "x")
	select {
	case snap := <-ch:
		if snap.Version != 1 {
			t.Errorf("version = %d, want 1", snap.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}
}

func TestRegistry(t *testing.T) {
	var r Registry
	a := r.Get("t1")
	if r.Get("t1") != a {
		t.Error("different store for same task")
	}
	if r.Get("t2") == a {
		t.Error("shared store across tasks")
	}
	r.Drop("t1")
	if r.Get("t1") == a {
		t.Error("store survived drop")
	}
}
