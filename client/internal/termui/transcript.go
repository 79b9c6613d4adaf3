package termui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/qualdev/fleet/client/internal/chat"
)

// Markdown formats items as a markdown document. Tool results are fenced
// with four backticks since bash output carries its own fence.
func Markdown(items []chat.Item) string {
	var b strings.Builder
	var lastRole chat.Role
	for _, it := range items {
		switch it.Kind {
		case chat.ItemText:
			if it.Role != lastRole {
				b.WriteString("**" + roleLabel(it.Role) + "**\n\n")
				lastRole = it.Role
			}
			b.WriteString(strings.TrimSpace(it.Text))
			b.WriteString("\n\n")
		case chat.ItemTool:
			b.WriteString("> " + it.Call.ToolName + ": " + chat.Summary(it.Call.Input) + "\n\n")
			switch {
			case it.Result == nil:
				b.WriteString("_running…_\n\n")
			case strings.TrimSpace(it.Result.Result) != "":
				lang := "text"
				if it.Result.IsError {
					lang = "error"
				}
				b.WriteString("````" + lang + "\n")
				b.WriteString(strings.Trim(it.Result.Result, "\n"))
				b.WriteString("\n````\n\n")
			}
			lastRole = ""
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Renderer turns a transcript into terminal output.
type Renderer struct {
	r *glamour.TermRenderer
}

// NewRenderer returns a renderer for style: "auto", "none", or a glamour
// standard style such as "dark", "light" or "notty". "none" returns the
// markdown untouched.
func NewRenderer(style string, width int) (*Renderer, error) {
	if style == "none" {
		return &Renderer{}, nil
	}
	if width <= 0 {
		width = 80
	}
	opt := glamour.WithStandardStyle(style)
	if style == "" || style == "auto" {
		opt = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(width))
	if err != nil {
		return nil, err
	}
	return &Renderer{r: r}, nil
}

// Render formats items. Markdown rendering failures fall back to the raw
// markdown.
func (r *Renderer) Render(items []chat.Item) string {
	md := Markdown(items)
	if r.r == nil {
		return md
	}
	out, err := r.r.Render(md)
	if err != nil {
		return md
	}
	return out
}
