package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Palette holds the ANSI-256 color tokens of a theme.
type Palette struct {
	Foreground string
	Muted      string
	Accent     string
	Border     string

	PriorityHigh   string
	PriorityNormal string
	PriorityLow    string

	Banner   string
	Error    string
	Selected string
}

var palettes = map[string]Palette{
	"default": {
		Foreground:     "252",
		Muted:          "245",
		Accent:         "75",
		Border:         "240",
		PriorityHigh:   "203",
		PriorityNormal: "252",
		PriorityLow:    "245",
		Banner:         "214",
		Error:          "203",
		Selected:       "236",
	},
	"high-contrast": {
		Foreground:     "15",
		Muted:          "250",
		Accent:         "51",
		Border:         "15",
		PriorityHigh:   "196",
		PriorityNormal: "15",
		PriorityLow:    "250",
		Banner:         "226",
		Error:          "196",
		Selected:       "238",
	},
}

type styles struct {
	tab       lipgloss.Style
	activeTab lipgloss.Style
	muted     lipgloss.Style
	accent    lipgloss.Style
	banner    lipgloss.Style
	errorText lipgloss.Style
	selected  lipgloss.Style
	high      lipgloss.Style
	normal    lipgloss.Style
	low       lipgloss.Style
	footer    lipgloss.Style
}

func newStyles(theme string) (styles, error) {
	p, ok := palettes[theme]
	if !ok {
		return styles{}, fmt.Errorf("invalid theme %q", theme)
	}
	return styles{
		tab:       lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted)).Padding(0, 1),
		activeTab: lipgloss.NewStyle().Foreground(lipgloss.Color(p.Accent)).Bold(true).Underline(true).Padding(0, 1),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted)),
		accent:    lipgloss.NewStyle().Foreground(lipgloss.Color(p.Accent)).Bold(true),
		banner:    lipgloss.NewStyle().Foreground(lipgloss.Color(p.Banner)).Bold(true),
		errorText: lipgloss.NewStyle().Foreground(lipgloss.Color(p.Error)),
		selected:  lipgloss.NewStyle().Background(lipgloss.Color(p.Selected)),
		high:      lipgloss.NewStyle().Foreground(lipgloss.Color(p.PriorityHigh)).Bold(true),
		normal:    lipgloss.NewStyle().Foreground(lipgloss.Color(p.PriorityNormal)),
		low:       lipgloss.NewStyle().Foreground(lipgloss.Color(p.PriorityLow)),
		footer:    lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted)).BorderTop(true).BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color(p.Border)),
	}, nil
}

// priorityStyle maps the 0..10 priority scale onto three bands.
func (s styles) priorityStyle(priority int) lipgloss.Style {
	switch {
	case priority >= 8:
		return s.high
	case priority >= 4:
		return s.normal
	default:
		return s.low
	}
}
