// Package termui prints conversation render items on a terminal: a live
// incremental view while the turn streams, and a markdown transcript once it
// ends.
package termui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/qualdev/fleet/client/internal/chat"
)

// Styles decorates the live view.
type Styles struct {
	User    lipgloss.Style
	Agent   lipgloss.Style
	Tool    lipgloss.Style
	Result  lipgloss.Style
	Error   lipgloss.Style
	Status  lipgloss.Style
	Speaker lipgloss.Style
}

// DefaultStyles is the colored palette.
func DefaultStyles() Styles {
	return Styles{
		User:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		Agent:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")),
		Tool:    lipgloss.NewStyle().Foreground(lipgloss.Color("179")),
		Result:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		Status:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		Speaker: lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Faint(true),
	}
}

// PlainStyles leaves text untouched.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{User: s, Agent: s, Tool: s, Result: s, Error: s, Status: s, Speaker: s}
}

func (s *Styles) role(r chat.Role) lipgloss.Style {
	if r == chat.RoleUser {
		return s.User
	}
	return s.Agent
}

// paint styles each line on its own so multi-line blocks are not padded to a
// common width.
func paint(st lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = st.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}

func roleLabel(r chat.Role) string {
	if r == chat.RoleUser {
		return "you"
	}
	return "agent"
}
