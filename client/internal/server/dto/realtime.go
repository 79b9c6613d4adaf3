// Voice channel wire messages. The channel speaks the OpenAI Realtime event
// protocol over a websocket.
package dto

import "encoding/json"

// Server-to-client realtime event types.
const (
	RTItemCreated           = "conversation.item.created"
	RTInputTranscriptDelta  = "conversation.item.input_audio_transcription.delta"
	RTOutputTranscriptDelta = "response.audio_transcript.delta"
	RTFunctionCallDone      = "response.function_call_arguments.done"
	RTSpeechStarted         = "input_audio_buffer.speech_started"
	RTSpeechStopped         = "input_audio_buffer.speech_stopped"
	RTOutputAudioStarted    = "output_audio_buffer.started"
	RTOutputAudioStopped    = "output_audio_buffer.stopped"
	RTSessionCreated        = "session.created"
	RTSessionUpdated        = "session.updated"
	RTResponseDone          = "response.done"
	RTError                 = "error"
)

// Client-to-server realtime event types.
const (
	RTSessionUpdate = "session.update"
	RTItemCreate    = "conversation.item.create"
	RTResponseNew   = "response.create"
)

// Realtime item types.
const (
	RTItemMessage            = "message"
	RTItemFunctionCall       = "function_call"
	RTItemFunctionCallOutput = "function_call_output"
)

// RealtimeEvent is the envelope of every event on the voice channel, in both
// directions. Type determines which fields are set.
type RealtimeEvent struct {
	Type       string           `json:"type"`
	EventID    string           `json:"event_id,omitempty"`
	ItemID     string           `json:"item_id,omitempty"`
	ResponseID string           `json:"response_id,omitempty"`
	Delta      string           `json:"delta,omitempty"`
	CallID     string           `json:"call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Arguments  string           `json:"arguments,omitempty"`
	Item       *RealtimeItem    `json:"item,omitempty"`
	Session    *RealtimeSession `json:"session,omitempty"`
	Error      *RealtimeError   `json:"error,omitempty"`
}

// RealtimeItem is a conversation item.
type RealtimeItem struct {
	ID      string            `json:"id,omitempty"`
	Type    string            `json:"type"`
	Role    string            `json:"role,omitempty"`
	CallID  string            `json:"call_id,omitempty"`
	Output  string            `json:"output,omitempty"`
	Content []RealtimeContent `json:"content,omitempty"`
}

// RealtimeContent is one content part of an item.
type RealtimeContent struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// RealtimeSession configures the voice session.
type RealtimeSession struct {
	Modalities   []string       `json:"modalities,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Voice        string         `json:"voice,omitempty"`
	Tools        []RealtimeTool `json:"tools,omitempty"`
	ToolChoice   string         `json:"tool_choice,omitempty"`
}

// RealtimeTool declares a function the model may call.
type RealtimeTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// RealtimeError is reported by the server in an "error" event.
type RealtimeError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
