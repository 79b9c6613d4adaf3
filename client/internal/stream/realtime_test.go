package stream

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

type fakeChannel struct {
	in     chan []byte
	sent   chan dto.RealtimeEvent
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan []byte, 16),
		sent:   make(chan dto.RealtimeEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) ReadMessage() ([]byte, error) {
	select {
	case d, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return d, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeChannel) WriteMessage(data []byte) error {
	var ev dto.RealtimeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.sent <- ev
	return nil
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) push(t *testing.T, ev dto.RealtimeEvent) {
	t.Helper()
	data, err := json.Marshal(&ev)
	if err != nil {
		t.Fatal(err)
	}
	f.in <- data
}

func (f *fakeChannel) next(t *testing.T) dto.RealtimeEvent {
	t.Helper()
	select {
	case ev := <-f.sent:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("nothing sent")
		return dto.RealtimeEvent{}
	}
}

type fakeDialer struct{ ch *fakeChannel }

func (d fakeDialer) Dial(context.Context) (Channel, error) { return d.ch, nil }

// queueDialer hands out one channel per Dial.
type queueDialer struct{ chans chan *fakeChannel }

func (d queueDialer) Dial(ctx context.Context) (Channel, error) {
	select {
	case ch := <-d.chans:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// blockingTools holds every call until release is closed.
type blockingTools struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingTools) ExecuteToolCalls(ctx context.Context, taskID string, calls []chat.Block) ([]chat.Block, error) {
	b.started <- struct{}{}
	<-b.release
	return echoTools{}.ExecuteToolCalls(ctx, taskID, calls)
}

type echoTools struct{}

func (echoTools) ExecuteToolCalls(_ context.Context, _ string, calls []chat.Block) ([]chat.Block, error) {
	out := make([]chat.Block, len(calls))
	for i, c := range calls {
		out[i] = chat.ToolResult(c.ToolID, "ran "+chat.Summary(c.Input), false)
	}
	return out, nil
}

func TestRealtime(t *testing.T) {
	ch := newFakeChannel()
	speakers := make(chan Speaker, 8)
	rt := &Realtime{
		Dialer:    fakeDialer{ch},
		Tools:     echoTools{},
		Session:   DefaultSession("alloy"),
		OnSpeaker: func(s Speaker) { speakers <- s },
	}
	c := NewController(chat.NewStore(), rt)
	done := c.Start(t.Context(), "t1")

	first := ch.next(t)
	if first.Type != dto.RTSessionUpdate || first.Session == nil || len(first.Session.Tools) != 2 {
		t.Fatalf("got %+v", first)
	}
	if first.EventID == "" {
		t.Error("missing event_id")
	}

	ch.push(t, dto.RealtimeEvent{Type: dto.RTSpeechStarted})
	ch.push(t, dto.RealtimeEvent{Type: dto.RTItemCreated, Item: &dto.RealtimeItem{ID: "item_1", Type: dto.RTItemMessage, Role: "user"}})
	ch.push(t, dto.RealtimeEvent{Type: dto.RTInputTranscriptDelta, ItemID: "item_1", Delta: "list "})
	ch.push(t, dto.RealtimeEvent{Type: dto.RTInputTranscriptDelta, ItemID: "item_1", Delta: "files"})
	ch.push(t, dto.RealtimeEvent{Type: dto.RTSpeechStopped})
	ch.push(t, dto.RealtimeEvent{Type: dto.RTItemCreated, Item: &dto.RealtimeItem{ID: "item_2", Type: dto.RTItemMessage, Role: "assistant"}})
	ch.push(t, dto.RealtimeEvent{Type: dto.RTOutputTranscriptDelta, ItemID: "item_2", Delta: "Sure."})
	ch.push(t, dto.RealtimeEvent{Type: dto.RTItemCreated, Item: &dto.RealtimeItem{ID: "fc_1", Type: dto.RTItemFunctionCall}})
	ch.push(t, dto.RealtimeEvent{Type: dto.RTFunctionCallDone, ItemID: "item_2", CallID: "call_1", Name: "bash", Arguments: `{"command":"ls"}`})

	out := ch.next(t)
	if out.Type != dto.RTItemCreate || out.Item == nil || out.Item.Type != dto.RTItemFunctionCallOutput {
		t.Fatalf("got %+v", out)
	}
	if out.Item.CallID != "call_1" || out.Item.Output != "ran $ ls" {
		t.Errorf("got %+v", out.Item)
	}
	if next := ch.next(t); next.Type != dto.RTResponseNew {
		t.Errorf("got %q, want %q", next.Type, dto.RTResponseNew)
	}

	msgs := c.Store().Messages()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(msgs), msgs)
	}
	if msgs[2].ID != "item_1" || msgs[2].Content[0].Text != "list files" {
		t.Errorf("got %+v", msgs[2])
	}
	got := msgs[3].Content
	if msgs[3].ID != "item_2" || len(got) != 3 {
		t.Fatalf("got %+v", msgs[3])
	}
	if got[0].Text != "Sure." || got[1].ToolID != "call_1" || got[2].Type != chat.BlockToolResult {
		t.Errorf("got %+v", got)
	}
	for _, want := range []Speaker{SpeakerUser, SpeakerNone} {
		if s := <-speakers; s != want {
			t.Errorf("speaker = %s, want %s", s, want)
		}
	}

	close(ch.in)
	waitDone(t, done)
	if st := c.Status(); st.State != StateCompleted {
		t.Errorf("state = %s, want completed", st.State)
	}
}

func TestRealtimeSay(t *testing.T) {
	ch := newFakeChannel()
	rt := &Realtime{Dialer: fakeDialer{ch}, Tools: echoTools{}}
	if err := rt.Say("hello"); err == nil {
		t.Error("expected error before the channel is open")
	}
	c := NewController(chat.NewStore(), rt)
	done := c.Start(t.Context(), "t1")
	ch.next(t)
	if err := rt.Say("hello"); err != nil {
		t.Fatal(err)
	}
	item := ch.next(t)
	if item.Type != dto.RTItemCreate || item.Item.Role != "user" || item.Item.Content[0].Text != "hello" {
		t.Errorf("got %+v", item)
	}
	if next := ch.next(t); next.Type != dto.RTResponseNew {
		t.Errorf("got %q", next.Type)
	}
	c.Cancel()
	waitDone(t, done)
}

func TestFunctionCall(t *testing.T) {
	t.Run("EditInput", func(t *testing.T) {
		b, err := functionCall(&dto.RealtimeEvent{
			CallID:    "c1",
			Name:      chat.ToolEdit,
			Arguments: `{"input":{"command":"create","path":"/tmp/repo/a.txt","file_text":"x"}}`,
		})
		if err != nil {
			t.Fatal(err)
		}
		want := chat.EditCreate{Path: "/tmp/repo/a.txt", FileText: "x"}
		if b.ToolID != "c1" || b.Input != want {
			t.Errorf("got %+v", b)
		}
	})
	t.Run("Invalid", func(t *testing.T) {
		if _, err := functionCall(&dto.RealtimeEvent{CallID: "c1", Name: "bash", Arguments: `{`}); err == nil {
			t.Error("expected error")
		}
		if _, err := functionCall(&dto.RealtimeEvent{Name: "bash", Arguments: `{"command":"ls"}`}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRealtimeRestart(t *testing.T) {
	ch1, ch2 := newFakeChannel(), newFakeChannel()
	dialer := queueDialer{chans: make(chan *fakeChannel, 2)}
	dialer.chans <- ch1
	dialer.chans <- ch2
	tools := blockingTools{started: make(chan struct{}, 1), release: make(chan struct{})}
	rt := &Realtime{Dialer: dialer, Tools: tools}
	c := NewController(chat.NewStore(), rt)

	done1 := c.Start(t.Context(), "t1")
	ch1.next(t)
	ch1.push(t, dto.RealtimeEvent{Type: dto.RTFunctionCallDone, ItemID: "fc_1", CallID: "call_1", Name: "bash", Arguments: `{"command":"sleep 1"}`})
	select {
	case <-tools.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool did not start")
	}

	done2 := c.Start(t.Context(), "t1")
	if ev := ch2.next(t); ev.Type != dto.RTSessionUpdate {
		t.Fatalf("got %q, want %q", ev.Type, dto.RTSessionUpdate)
	}
	close(tools.release)
	waitDone(t, done1)

	if err := rt.Say("hello"); err != nil {
		t.Fatalf("Say after restart: %v", err)
	}
	if ev := ch2.next(t); ev.Type != dto.RTItemCreate || ev.Item == nil || ev.Item.Role != "user" {
		t.Errorf("got %+v", ev)
	}
	c.Cancel()
	waitDone(t, done2)
}

func TestRealtimeRepeatedCall(t *testing.T) {
	ch := newFakeChannel()
	rt := &Realtime{Dialer: fakeDialer{ch}, Tools: echoTools{}}
	c := NewController(chat.NewStore(), rt)
	done := c.Start(t.Context(), "t1")
	ch.next(t)

	call := dto.RealtimeEvent{Type: dto.RTFunctionCallDone, ItemID: "fc_1", CallID: "call_1", Name: "bash", Arguments: `{"command":"ls"}`}
	ch.push(t, call)
	ch.push(t, call)
	if out := ch.next(t); out.Type != dto.RTItemCreate || out.Item == nil || out.Item.CallID != "call_1" {
		t.Fatalf("got %+v", out)
	}
	if next := ch.next(t); next.Type != dto.RTResponseNew {
		t.Errorf("got %q, want %q", next.Type, dto.RTResponseNew)
	}
	close(ch.in)
	waitDone(t, done)

	if n := len(ch.sent); n != 0 {
		t.Errorf("%d extra events sent, want 0", n)
	}
	calls := 0
	for _, m := range c.Store().Messages() {
		for _, b := range m.Content {
			if b.Type == chat.BlockToolInput && b.ToolID == "call_1" {
				calls++
			}
		}
	}
	if calls != 1 {
		t.Errorf("tool_input blocks = %d, want 1", calls)
	}
}
