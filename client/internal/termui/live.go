package termui

import (
	"fmt"
	"io"
	"strings"

	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/stream"
)

// MaxResultLines bounds how much of a tool result the live view prints.
const MaxResultLines = 8

// Live prints the difference between successive projections: text deltas
// as they stream, tool calls when announced or relabelled, results once.
type Live struct {
	w      io.Writer
	styles Styles

	seen   []seenItem
	cursor int  // item the output line belongs to, -1 when none
	open   bool // the last line has no trailing newline
}

type seenItem struct {
	kind      chat.ItemKind
	messageID string
	toolID    string
	text      string // text, or the tool summary
	result    bool
}

// NewLive returns a live printer writing to w.
func NewLive(w io.Writer, styles Styles) *Live {
	return &Live{w: w, styles: styles, cursor: -1}
}

// Update prints what changed since the last call.
func (l *Live) Update(items []chat.Item) error {
	var b strings.Builder
	for i := range items {
		it := &items[i]
		if i < len(l.seen) && !l.seen[i].same(it) {
			// History was replaced: forget everything after this point.
			l.seen = l.seen[:i]
		}
		if i == len(l.seen) {
			l.seen = append(l.seen, seenItem{kind: it.Kind, messageID: it.MessageID, toolID: it.Call.ToolID})
		}
		l.item(&b, i, it)
	}
	if len(items) < len(l.seen) {
		l.seen = l.seen[:len(items)]
	}
	_, err := io.WriteString(l.w, b.String())
	return err
}

// Status prints a one line status change.
func (l *Live) Status(st stream.Status) error {
	var b strings.Builder
	l.newline(&b)
	msg := st.State.String()
	if st.LastError != "" {
		b.WriteString(paint(l.styles.Error, "["+msg+": "+st.LastError+"]"))
	} else {
		b.WriteString(paint(l.styles.Status, "["+msg+"]"))
	}
	b.WriteString("\n")
	_, err := io.WriteString(l.w, b.String())
	return err
}

// Speaker prints the active voice speaker.
func (l *Live) Speaker(s stream.Speaker) error {
	if s == stream.SpeakerNone {
		return nil
	}
	var b strings.Builder
	l.newline(&b)
	b.WriteString(paint(l.styles.Speaker, "("+s.String()+" speaking)"))
	b.WriteString("\n")
	_, err := io.WriteString(l.w, b.String())
	return err
}

func (l *Live) item(b *strings.Builder, i int, it *chat.Item) {
	s := &l.seen[i]
	switch it.Kind {
	case chat.ItemText:
		if it.Text == s.text {
			return
		}
		delta := it.Text
		if l.cursor == i && strings.HasPrefix(it.Text, s.text) {
			delta = it.Text[len(s.text):]
		} else {
			l.newline(b)
			b.WriteString(paint(l.styles.role(it.Role), roleLabel(it.Role)+":") + " ")
			if s.text != "" && strings.HasPrefix(it.Text, s.text) {
				b.WriteString("…")
				delta = it.Text[len(s.text):]
			}
		}
		b.WriteString(delta)
		l.cursor, l.open = i, !strings.HasSuffix(delta, "\n")
		s.text = it.Text
	case chat.ItemTool:
		if label := chat.Summary(it.Call.Input); label != s.text {
			l.newline(b)
			b.WriteString(paint(l.styles.Tool, "▶ "+it.Call.ToolName+": "+label))
			b.WriteString("\n")
			s.text = label
			l.cursor = i
		}
		if it.Result != nil && !s.result {
			l.newline(b)
			st := l.styles.Result
			if it.Result.IsError {
				st = l.styles.Error
			}
			b.WriteString(paint(st, indent(clip(strings.Trim(it.Result.Result, "\n"), MaxResultLines))))
			b.WriteString("\n")
			s.result = true
			l.cursor = i
		}
	}
}

// newline terminates a dangling text line.
func (l *Live) newline(b *strings.Builder) {
	if l.open {
		b.WriteString("\n")
		l.open = false
	}
	l.cursor = -1
}

func (s *seenItem) same(it *chat.Item) bool {
	return s.kind == it.Kind && s.messageID == it.MessageID && s.toolID == it.Call.ToolID
}

func clip(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n… (%d more lines)", len(lines)-n)
}

func indent(text string) string {
	return "  " + strings.ReplaceAll(text, "\n", "\n  ")
}
