// Pure conversation transforms. Each takes a message list and returns a new
// one; inputs are never modified so earlier snapshots stay valid.
package chat

import "log/slog"

// setMessage returns a copy of msgs with msgs[i] replaced by m.
func setMessage(msgs []Message, i int, m Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	out[i] = m
	return out
}

func pushMessage(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

func indexByID(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// appendBlock adds b to the last message when it has the given role, or
// starts a new message with id (a fresh one when id is empty).
func appendBlock(msgs []Message, role Role, id string, b Block) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		return setMessage(msgs, n-1, msgs[n-1].appendContent(b))
	}
	if id == "" {
		id = NewID()
	}
	return pushMessage(msgs, Message{ID: id, Role: role, Content: []Block{b}})
}

// appendOrCreateWithID adds b to the message with id, anywhere in the list.
// Without such a message, it follows appendBlock and gives a newly created
// message the id.
func appendOrCreateWithID(msgs []Message, role Role, id string, b Block) []Message {
	if i := indexByID(msgs, id); i >= 0 {
		return setMessage(msgs, i, msgs[i].appendContent(b))
	}
	return appendBlock(msgs, role, id, b)
}

// replaceOrAppendByID replaces the first block matching match wherever it
// lives, keeping its position. Otherwise it follows appendOrCreateWithID.
func replaceOrAppendByID(msgs []Message, role Role, id string, b Block, match func(Block) bool) []Message {
	for i := range msgs {
		for j := range msgs[i].Content {
			if match(msgs[i].Content[j]) {
				return setMessage(msgs, i, msgs[i].replaceContent(j, b))
			}
		}
	}
	return appendOrCreateWithID(msgs, role, id, b)
}

// replaceOrAppendMatching replaces the first block of the last message that
// satisfies match, provided that message has the role. Otherwise b is
// appended.
func replaceOrAppendMatching(msgs []Message, role Role, b Block, match func(Block) bool) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		last := msgs[n-1]
		for i := range last.Content {
			if match(last.Content[i]) {
				return setMessage(msgs, n-1, last.replaceContent(i, b))
			}
		}
	}
	return appendBlock(msgs, role, "", b)
}

// mergeResult appends a tool_result to the assistant message holding the
// matching tool_input. It is a no-op when a result with the same tool id
// already exists or when no assistant holds the call. The boolean reports
// whether msgs changed.
func mergeResult(msgs []Message, b Block) ([]Message, bool) {
	holder := -1
	for i := range msgs {
		for _, c := range msgs[i].Content {
			if c.ToolID != b.ToolID {
				continue
			}
			switch c.Type {
			case BlockToolResult:
				return msgs, false
			case BlockToolInput:
				if holder < 0 && msgs[i].Role == RoleAssistant {
					holder = i
				}
			case BlockText:
			}
		}
	}
	if holder < 0 {
		slog.Warn("dropping tool result without matching call", "tool_id", b.ToolID)
		return msgs, false
	}
	return setMessage(msgs, holder, msgs[holder].appendContent(b)), true
}

// appendTextDelta extends the trailing text block of the last message when it
// has the role; otherwise it appends a new text block following appendBlock.
func appendTextDelta(msgs []Message, role Role, fragment string) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		last := msgs[n-1]
		if k := len(last.Content); k > 0 && last.Content[k-1].Type == BlockText {
			return setMessage(msgs, n-1, last.replaceContent(k-1, Text(last.Content[k-1].Text+fragment)))
		}
	}
	return appendBlock(msgs, role, "", Text(fragment))
}

// updateTextByID extends the trailing text block of the message with id, or
// appends a text block to it. The boolean is false when no message has id.
func updateTextByID(msgs []Message, id, fragment string) ([]Message, bool) {
	i := indexByID(msgs, id)
	if i < 0 {
		return msgs, false
	}
	m := msgs[i]
	if k := len(m.Content); k > 0 && m.Content[k-1].Type == BlockText {
		return setMessage(msgs, i, m.replaceContent(k-1, Text(m.Content[k-1].Text+fragment))), true
	}
	return setMessage(msgs, i, m.appendContent(Text(fragment))), true
}

// createWithID appends an empty message with id unless it already exists.
func createWithID(msgs []Message, role Role, id string) ([]Message, bool) {
	if indexByID(msgs, id) >= 0 {
		return msgs, false
	}
	return pushMessage(msgs, Message{ID: id, Role: role, Content: []Block{Text("")}}), true
}

// setUserPrompt sets the text of the first user message when it is still the
// empty seed.
func setUserPrompt(msgs []Message, text string) ([]Message, bool) {
	if len(msgs) == 0 || msgs[0].Role != RoleUser {
		return msgs, false
	}
	first := msgs[0]
	if len(first.Content) != 1 || first.Content[0].Type != BlockText || first.Content[0].Text != "" {
		return msgs, false
	}
	return setMessage(msgs, 0, first.replaceContent(0, Text(text))), true
}

// SameToolCall matches tool_input blocks with the given tool id.
func SameToolCall(toolID string) func(Block) bool {
	return func(b Block) bool {
		return b.Type == BlockToolInput && b.ToolID == toolID
	}
}
