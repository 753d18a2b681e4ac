// Package styles provides the lipgloss styles of the history browser.
package styles

import (
	"github.com/Dicklesworthstone/waynotify/internal/tui/theme"
	"github.com/charmbracelet/lipgloss"
)

// Styles contains the styled renderers.
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Normal   lipgloss.Style
	Dimmed   lipgloss.Style
	Bold     lipgloss.Style
	Action   lipgloss.Style
	Selected lipgloss.Style
	Status   lipgloss.Style
	Error    lipgloss.Style
	Panel    lipgloss.Style

	theme *theme.Theme
	badge lipgloss.Style
}

// New creates styles from the current theme.
func New() *Styles {
	return FromTheme(theme.Current)
}

// FromTheme creates styles from a specific theme.
func FromTheme(t *theme.Theme) *Styles {
	s := &Styles{theme: t}

	s.Title = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	s.Subtitle = lipgloss.NewStyle().
		Foreground(t.Subtext).
		Italic(true)

	s.Normal = lipgloss.NewStyle().Foreground(t.Text)
	s.Dimmed = lipgloss.NewStyle().Foreground(t.Subtext)
	s.Bold = lipgloss.NewStyle().Foreground(t.Text).Bold(true)

	s.Action = lipgloss.NewStyle().
		Foreground(t.Base).
		Background(t.Accent).
		Padding(0, 1)

	s.Selected = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(t.Accent).
		PaddingLeft(1)

	s.Status = lipgloss.NewStyle().Foreground(t.Good)
	s.Error = lipgloss.NewStyle().Foreground(t.Alert).Bold(true)

	s.Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Muted).
		Padding(0, 1)

	s.badge = lipgloss.NewStyle().
		Padding(0, 1).
		Bold(true).
		Foreground(t.Base)

	return s
}

// UrgencyBadge renders an urgency name as a colored badge.
func (s *Styles) UrgencyBadge(urgency string) string {
	return s.badge.
		Background(s.theme.UrgencyColor(urgency)).
		Render(theme.UrgencyIcon(urgency) + " " + urgency)
}

// StateLabel renders a lifecycle state in its color.
func (s *Styles) StateLabel(state string) string {
	return lipgloss.NewStyle().
		Foreground(s.theme.StateColor(state)).
		Render(state)
}
