// Scripted voice channel speaking the realtime event protocol.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/maruel/ksid"
	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

const secretTTL = time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local development server; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// realtimeSession issues an ephemeral secret for the voice channel.
func (s *Server) realtimeSession(_ context.Context, _ *dto.EmptyReq) (*dto.RealtimeSessionResp, error) {
	var b [16]byte
	_, _ = rand.Read(b[:])
	secret := "ek_" + hex.EncodeToString(b[:])
	exp := time.Now().Add(secretTTL)
	s.mu.Lock()
	for k, t := range s.secrets {
		if time.Now().After(t) {
			delete(s.secrets, k)
		}
	}
	s.secrets[secret] = exp
	s.mu.Unlock()
	return &dto.RealtimeSessionResp{
		ClientSecret: dto.ClientSecret{Value: secret, ExpiresAt: exp.Unix()},
		Model:        s.opts.RealtimeModel,
	}, nil
}

// consumeSecret validates and revokes a session secret.
func (s *Server) consumeSecret(r *http.Request) bool {
	secret, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.secrets[secret]
	delete(s.secrets, secret)
	return ok && time.Now().Before(exp)
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if !s.consumeSecret(r) {
		writeError(w, dto.Unauthorized("invalid session secret"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("realtime upgrade", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()
	v := &voiceSession{conn: conn}
	v.run()
}

// voiceSession scripts one voice conversation. A user turn makes the agent
// announce and request a bash call; once the call output comes back, the
// agent comments on it.
type voiceSession struct {
	conn        *websocket.Conn
	pendingText string
	pendingCall string // call id awaiting its output
	gotOutput   bool
}

func (v *voiceSession) run() {
	if !v.send(&dto.RealtimeEvent{Type: dto.RTSessionCreated}) {
		return
	}
	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("realtime closed", "err", err)
			}
			return
		}
		var ev dto.RealtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			v.sendError("invalid_event", err.Error())
			continue
		}
		if !v.handle(&ev) {
			return
		}
	}
}

func (v *voiceSession) handle(ev *dto.RealtimeEvent) bool {
	switch ev.Type {
	case dto.RTSessionUpdate:
		return v.send(&dto.RealtimeEvent{Type: dto.RTSessionUpdated, Session: ev.Session})
	case dto.RTItemCreate:
		if ev.Item == nil {
			v.sendError("invalid_event", "missing item")
			return true
		}
		switch ev.Item.Type {
		case dto.RTItemMessage:
			for _, c := range ev.Item.Content {
				v.pendingText += c.Text
			}
		case dto.RTItemFunctionCallOutput:
			if ev.Item.CallID == v.pendingCall {
				v.gotOutput = true
			}
		}
		return true
	case dto.RTResponseNew:
		if v.pendingCall != "" {
			if !v.gotOutput {
				v.sendError("invalid_state", "function call output missing")
				return true
			}
			v.pendingCall, v.gotOutput = "", false
			return v.say("Done. The results are in the tool output.")
		}
		if v.pendingText != "" {
			text := v.pendingText
			v.pendingText = ""
			return v.userTurn(text)
		}
		return v.say("How can I help?")
	default:
		slog.Debug("realtime ignoring", "type", ev.Type)
		return true
	}
}

// userTurn replays the typed text as a transcribed utterance and answers
// with a bash call.
func (v *voiceSession) userTurn(text string) bool {
	userID := "item_" + ksid.NewID().String()
	evs := []dto.RealtimeEvent{
		{Type: dto.RTSpeechStarted},
		{Type: dto.RTSpeechStopped},
		{Type: dto.RTItemCreated, Item: &dto.RealtimeItem{ID: userID, Type: dto.RTItemMessage, Role: string(chat.RoleUser)}},
	}
	for _, w := range strings.SplitAfter(text, " ") {
		evs = append(evs, dto.RealtimeEvent{Type: dto.RTInputTranscriptDelta, ItemID: userID, Delta: w})
	}
	command := "ls -1A"
	if c, ok := strings.CutPrefix(strings.TrimSpace(text), "$ "); ok && c != "" {
		command = c
	}
	args, _ := json.Marshal(chat.BashInput{Command: command})
	v.pendingCall = "call_" + ksid.NewID().String()
	assistantID := "item_" + ksid.NewID().String()
	evs = append(evs,
		dto.RealtimeEvent{Type: dto.RTItemCreated, Item: &dto.RealtimeItem{ID: assistantID, Type: dto.RTItemMessage, Role: string(chat.RoleAssistant)}},
		dto.RealtimeEvent{Type: dto.RTOutputAudioStarted},
		dto.RealtimeEvent{Type: dto.RTOutputTranscriptDelta, ItemID: assistantID, Delta: "Let me run that. "},
		dto.RealtimeEvent{Type: dto.RTItemCreated, Item: &dto.RealtimeItem{ID: "fc_" + v.pendingCall, Type: dto.RTItemFunctionCall, CallID: v.pendingCall}},
		dto.RealtimeEvent{Type: dto.RTFunctionCallDone, ItemID: assistantID, CallID: v.pendingCall, Name: chat.ToolBash, Arguments: string(args)},
		dto.RealtimeEvent{Type: dto.RTOutputAudioStopped},
		dto.RealtimeEvent{Type: dto.RTResponseDone},
	)
	for i := range evs {
		if !v.send(&evs[i]) {
			return false
		}
	}
	return true
}

// say produces a spoken assistant reply.
func (v *voiceSession) say(text string) bool {
	id := "item_" + ksid.NewID().String()
	evs := []dto.RealtimeEvent{
		{Type: dto.RTItemCreated, Item: &dto.RealtimeItem{ID: id, Type: dto.RTItemMessage, Role: string(chat.RoleAssistant)}},
		{Type: dto.RTOutputAudioStarted},
	}
	for _, w := range strings.SplitAfter(text, " ") {
		evs = append(evs, dto.RealtimeEvent{Type: dto.RTOutputTranscriptDelta, ItemID: id, Delta: w})
	}
	evs = append(evs, dto.RealtimeEvent{Type: dto.RTOutputAudioStopped}, dto.RealtimeEvent{Type: dto.RTResponseDone})
	for i := range evs {
		if !v.send(&evs[i]) {
			return false
		}
	}
	return true
}

func (v *voiceSession) sendError(code, msg string) {
	v.send(&dto.RealtimeEvent{Type: dto.RTError, Error: &dto.RealtimeError{Type: "invalid_request_error", Code: code, Message: msg}})
}

func (v *voiceSession) send(ev *dto.RealtimeEvent) bool {
	ev.EventID = "event_" + uuid.NewString()
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("realtime marshal", "err", err)
		return false
	}
	if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Info("realtime write", "err", err)
		return false
	}
	return true
}
