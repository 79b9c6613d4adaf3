// Display projection of the conversation.
package chat

// ItemKind identifies a render item.
type ItemKind int

// Render item kinds.
const (
	ItemText ItemKind = iota
	ItemTool
)

// Item is one displayable element: a text run or a tool call paired with its
// result.
type Item struct {
	Kind      ItemKind
	MessageID string
	Role      Role
	Text      string // ItemText.
	Call      Block  // ItemTool: the tool_input block.
	Result    *Block // ItemTool: nil while the call is running.
}

// Running reports whether a tool item still awaits its result.
func (it *Item) Running() bool {
	return it.Kind == ItemTool && it.Result == nil
}

// Project flattens msgs into render items in message order. Tool results are
// not rendered on their own; each call is paired with the first result
// carrying its tool id, wherever that result lives. Empty text blocks are
// skipped.
func Project(msgs []Message) []Item {
	results := map[string]*Block{}
	for i := range msgs {
		for j := range msgs[i].Content {
			b := &msgs[i].Content[j]
			if b.Type == BlockToolResult {
				if _, ok := results[b.ToolID]; !ok {
					results[b.ToolID] = b
				}
			}
		}
	}
	var out []Item
	for _, m := range msgs {
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				if b.Text == "" {
					continue
				}
				out = append(out, Item{Kind: ItemText, MessageID: m.ID, Role: m.Role, Text: b.Text})
			case BlockToolInput:
				out = append(out, Item{Kind: ItemTool, MessageID: m.ID, Role: m.Role, Call: b, Result: results[b.ToolID]})
			case BlockToolResult:
			}
		}
	}
	return out
}
