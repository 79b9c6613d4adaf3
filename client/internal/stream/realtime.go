package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

// Channel is a bidirectional message channel to the voice model.
type Channel interface {
	// ReadMessage returns the next message, or io.EOF once the peer closed
	// the channel normally.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one message. It is safe for concurrent use.
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Channel.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// ToolExecutor runs tool calls in the task sandbox and returns one result
// per call.
type ToolExecutor interface {
	ExecuteToolCalls(ctx context.Context, taskID string, calls []chat.Block) ([]chat.Block, error)
}

// Speaker identifies who is talking on the voice channel.
type Speaker int

// Speakers.
const (
	SpeakerNone Speaker = iota
	SpeakerUser
	SpeakerAgent
)

func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "user"
	case SpeakerAgent:
		return "agent"
	default:
		return "none"
	}
}

// Realtime is the push transport: a voice session whose transcripts and
// function calls are mapped onto task events. Function calls are executed
// through Tools and their outputs are sent back to the model.
type Realtime struct {
	Dialer  Dialer
	Tools   ToolExecutor
	Session dto.RealtimeSession
	// OnSpeaker, when set, is called on every speaker change.
	OnSpeaker func(Speaker)

	mu      sync.Mutex
	ch      Channel
	speaker Speaker
}

// Stream implements Source. It returns nil when the channel is closed by the
// peer or ctx is cancelled.
func (r *Realtime) Stream(ctx context.Context, taskID string, emit func(Event) bool) error {
	ch, err := r.Dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial voice channel: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()
	r.setChannel(ch)
	defer func() {
		r.releaseChannel(ch)
		_ = ch.Close()
	}()

	sess := r.Session
	if err := send(ch, &dto.RealtimeEvent{Type: dto.RTSessionUpdate, Session: &sess}); err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	dispatched := map[string]bool{}
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var ev dto.RealtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("skipping malformed realtime event", "err", err)
			continue
		}
		if !r.handle(ctx, ch, &wg, dispatched, taskID, &ev, emit) {
			return nil
		}
	}
}

// handle maps one channel event. dispatched holds the call ids already sent
// to the sandbox in this session; a repeated call updates the block without
// running the tool again.
func (r *Realtime) handle(ctx context.Context, ch Channel, wg *sync.WaitGroup, dispatched map[string]bool, taskID string, ev *dto.RealtimeEvent, emit func(Event) bool) bool {
	switch ev.Type {
	case dto.RTItemCreated:
		it := ev.Item
		if it == nil || it.ID == "" || (it.Type != "" && it.Type != dto.RTItemMessage) {
			return true
		}
		role := chat.Role(it.Role)
		if role == "" {
			role = chat.RoleAssistant
		}
		return emit(Event{Type: dto.EventMessageStart, MessageID: it.ID, Role: role})
	case dto.RTInputTranscriptDelta, dto.RTOutputTranscriptDelta:
		return emit(Event{Type: dto.EventTextDelta, MessageID: ev.ItemID, Text: ev.Delta})
	case dto.RTFunctionCallDone:
		call, err := functionCall(ev)
		if err != nil {
			slog.Warn("invalid function call", "name", ev.Name, "err", err)
			_ = send(ch, functionOutput(ev.CallID, "Error: "+err.Error()))
			_ = send(ch, &dto.RealtimeEvent{Type: dto.RTResponseNew})
			return true
		}
		if !emit(Event{Type: dto.EventToolInput, MessageID: ev.ItemID, Block: call}) {
			return false
		}
		if dispatched[call.ToolID] {
			slog.Debug("repeated function call", "call_id", call.ToolID)
			return true
		}
		dispatched[call.ToolID] = true
		wg.Go(func() { r.runTools(ctx, ch, taskID, []chat.Block{call}, emit) })
	case dto.RTSpeechStarted:
		r.setSpeaker(ch, SpeakerUser)
	case dto.RTOutputAudioStarted:
		r.setSpeaker(ch, SpeakerAgent)
	case dto.RTSpeechStopped, dto.RTOutputAudioStopped:
		r.setSpeaker(ch, SpeakerNone)
	case dto.RTError:
		msg := "realtime error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return emit(Event{Type: dto.EventError, Err: msg})
	default:
		slog.Debug("ignoring realtime event", "type", ev.Type)
	}
	return true
}

// runTools executes calls, records the results and hands them back to the
// model followed by a request for a new response.
func (r *Realtime) runTools(ctx context.Context, ch Channel, taskID string, calls []chat.Block, emit func(Event) bool) {
	results, err := r.Tools.ExecuteToolCalls(ctx, taskID, calls)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("tool calls failed", "err", err)
		results = make([]chat.Block, len(calls))
		for i := range calls {
			results[i] = chat.ToolResult(calls[i].ToolID, "Error: "+err.Error(), true)
		}
	}
	for _, res := range results {
		if !emit(Event{Type: dto.EventToolResult, Block: res}) {
			return
		}
		if err := send(ch, functionOutput(res.ToolID, res.Result)); err != nil {
			slog.Warn("send function output", "err", err)
			return
		}
	}
	if err := send(ch, &dto.RealtimeEvent{Type: dto.RTResponseNew}); err != nil {
		slog.Warn("send response.create", "err", err)
	}
}

// Say sends a typed user turn on the open voice channel and asks for a
// response.
func (r *Realtime) Say(text string) error {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	if ch == nil {
		return errors.New("voice channel is not open")
	}
	item := &dto.RealtimeItem{
		Type:    dto.RTItemMessage,
		Role:    string(chat.RoleUser),
		Content: []dto.RealtimeContent{{Type: "input_text", Text: text}},
	}
	if err := send(ch, &dto.RealtimeEvent{Type: dto.RTItemCreate, Item: item}); err != nil {
		return err
	}
	return send(ch, &dto.RealtimeEvent{Type: dto.RTResponseNew})
}

// Speaker returns who is currently talking.
func (r *Realtime) Speaker() Speaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaker
}

// setSpeaker records s when ch is still the open channel. Markers from a
// superseded session are ignored.
func (r *Realtime) setSpeaker(ch Channel, s Speaker) {
	r.mu.Lock()
	if r.ch != ch {
		r.mu.Unlock()
		return
	}
	changed := r.speaker != s
	r.speaker = s
	cb := r.OnSpeaker
	r.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}

// setChannel installs the channel of a new session.
func (r *Realtime) setChannel(ch Channel) {
	r.mu.Lock()
	r.ch = ch
	r.mu.Unlock()
	r.setSpeaker(ch, SpeakerNone)
}

// releaseChannel clears ch unless a newer session replaced it already.
func (r *Realtime) releaseChannel(ch Channel) {
	r.setSpeaker(ch, SpeakerNone)
	r.mu.Lock()
	if r.ch == ch {
		r.ch = nil
	}
	r.mu.Unlock()
}

// functionCall maps a completed function call onto a tool_input block keyed
// by the call id. The file edit tool nests its payload under "input".
func functionCall(ev *dto.RealtimeEvent) (chat.Block, error) {
	if ev.CallID == "" {
		return chat.Block{}, errors.New("missing call_id")
	}
	raw := json.RawMessage(ev.Arguments)
	if ev.Name == chat.ToolEdit {
		var wrapped struct {
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return chat.Block{}, err
		}
		raw = wrapped.Input
	}
	in, err := chat.ParseToolInput(ev.Name, raw)
	if err != nil {
		return chat.Block{}, err
	}
	return chat.ToolCall(ev.CallID, in), nil
}

func functionOutput(callID, output string) *dto.RealtimeEvent {
	return &dto.RealtimeEvent{
		Type: dto.RTItemCreate,
		Item: &dto.RealtimeItem{Type: dto.RTItemFunctionCallOutput, CallID: callID, Output: output},
	}
}

func send(ch Channel, ev *dto.RealtimeEvent) error {
	if ev.EventID == "" {
		ev.EventID = "evt_" + uuid.NewString()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ch.WriteMessage(data)
}
