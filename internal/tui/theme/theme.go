// Package theme holds the history browser color schemes.
package theme

import "github.com/charmbracelet/lipgloss"

// Theme is a small Catppuccin palette.
type Theme struct {
	Name   string
	IsDark bool

	Accent  lipgloss.Color // titles, selection
	Info    lipgloss.Color // normal urgency
	Good    lipgloss.Color // invoked actions
	Warn    lipgloss.Color // expired
	Alert   lipgloss.Color // critical urgency
	Text    lipgloss.Color
	Subtext lipgloss.Color
	Muted   lipgloss.Color // low urgency, borders
	Base    lipgloss.Color
	Surface lipgloss.Color
}

// Mocha is the dark flavor.
func Mocha() *Theme {
	return &Theme{
		Name:    "mocha",
		IsDark:  true,
		Accent:  lipgloss.Color("#cba6f7"),
		Info:    lipgloss.Color("#89b4fa"),
		Good:    lipgloss.Color("#a6e3a1"),
		Warn:    lipgloss.Color("#f9e2af"),
		Alert:   lipgloss.Color("#f38ba8"),
		Text:    lipgloss.Color("#cdd6f4"),
		Subtext: lipgloss.Color("#a6adc8"),
		Muted:   lipgloss.Color("#6c7086"),
		Base:    lipgloss.Color("#1e1e2e"),
		Surface: lipgloss.Color("#313244"),
	}
}

// Latte is the light flavor.
func Latte() *Theme {
	return &Theme{
		Name:    "latte",
		IsDark:  false,
		Accent:  lipgloss.Color("#8839ef"),
		Info:    lipgloss.Color("#1e66f5"),
		Good:    lipgloss.Color("#40a02b"),
		Warn:    lipgloss.Color("#df8e1d"),
		Alert:   lipgloss.Color("#d20f39"),
		Text:    lipgloss.Color("#4c4f69"),
		Subtext: lipgloss.Color("#6c6f85"),
		Muted:   lipgloss.Color("#9ca0b0"),
		Base:    lipgloss.Color("#eff1f5"),
		Surface: lipgloss.Color("#ccd0da"),
	}
}

// Current holds the active theme.
var Current = Mocha()

// SetTheme selects a flavor by name. Unknown names pick mocha, or latte on
// a light terminal background when name is empty.
func SetTheme(name string) {
	switch name {
	case "latte":
		Current = Latte()
	case "mocha":
		Current = Mocha()
	case "":
		if lipgloss.HasDarkBackground() {
			Current = Mocha()
		} else {
			Current = Latte()
		}
	default:
		Current = Mocha()
	}
}

// UrgencyColor returns the color for an urgency name.
func (t *Theme) UrgencyColor(urgency string) lipgloss.Color {
	switch urgency {
	case "critical":
		return t.Alert
	case "low":
		return t.Muted
	default:
		return t.Info
	}
}

// StateColor returns the color for a lifecycle state name.
func (t *Theme) StateColor(state string) lipgloss.Color {
	switch state {
	case "active":
		return t.Text
	case "expired":
		return t.Warn
	case "action_invoked":
		return t.Good
	default:
		return t.Subtext
	}
}

// UrgencyIcon returns a one-cell marker for an urgency name.
func UrgencyIcon(urgency string) string {
	switch urgency {
	case "critical":
		return "!"
	case "low":
		return "·"
	default:
		return "•"
	}
}
