package chat

import (
	"github.com/maruel/ksid"
)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Seed message ids.
const (
	DefaultUserMsgID      = "default_user_msg"
	DefaultAssistantMsgID = "default_assistant_msg"
)

// SetupStartLabel is the label of the setup step before the server reports
// progress.
const SetupStartLabel = "Starting container"

// Message is one turn of the conversation.
type Message struct {
	ID      string  `json:"id"`
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// NewID returns a fresh message id.
func NewID() string {
	return ksid.NewID().String()
}

// Seed returns the initial conversation: an empty user message followed by an
// assistant message holding the setup step.
func Seed() []Message {
	return []Message{
		{ID: DefaultUserMsgID, Role: RoleUser, Content: []Block{Text("")}},
		{ID: DefaultAssistantMsgID, Role: RoleAssistant, Content: []Block{ToolCall(SetupToolID, SetupInput(SetupStartLabel))}},
	}
}

// withContent returns a copy of m whose content is content.
func (m Message) withContent(content []Block) Message {
	return Message{ID: m.ID, Role: m.Role, Content: content}
}

// appendContent returns a copy of m with b appended. The original content
// slice is left untouched.
func (m Message) appendContent(b Block) Message {
	c := make([]Block, len(m.Content), len(m.Content)+1)
	copy(c, m.Content)
	return m.withContent(append(c, b))
}

// replaceContent returns a copy of m with block i set to b.
func (m Message) replaceContent(i int, b Block) Message {
	c := make([]Block, len(m.Content))
	copy(c, m.Content)
	c[i] = b
	return m.withContent(c)
}
