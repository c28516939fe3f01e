package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorBorder = lipgloss.Color("#2a3850")
	colorTitle  = lipgloss.Color("#2196F3")
	colorPass   = lipgloss.Color("#8BC34A")
	colorFail   = lipgloss.Color("#e53935")
	colorMuted  = lipgloss.Color("#9aa5b1")
)

// Styles holds the window styles.
type Styles struct {
	Title  lipgloss.Style
	Pane   lipgloss.Style
	Label  lipgloss.Style
	Pass   lipgloss.Style
	Fail   lipgloss.Style
	Help   lipgloss.Style
	Status lipgloss.Style
}

// DefaultStyles returns the styles used by the window.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(colorTitle),
		Pane: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true),
		Pass:   lipgloss.NewStyle().Foreground(colorPass),
		Fail:   lipgloss.NewStyle().Foreground(colorFail),
		Help:   lipgloss.NewStyle().Foreground(colorMuted),
		Status: lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
	}
}

// PlainStyles disables colour and borders, for --no-ansi.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title:  plain,
		Pane:   plain,
		Label:  plain,
		Pass:   plain,
		Fail:   plain,
		Help:   plain,
		Status: plain,
	}
}
