// Package watch implements the `system watch` TUI: gateway health, live
// websocket connections and the operational event stream, all read from the
// ops API.
package watch

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme keeps every colour used by the watcher in one place.
type Theme struct {
	OK       lipgloss.Style
	Warn     lipgloss.Style
	Failed   lipgloss.Style
	Dim      lipgloss.Style
	Accent   lipgloss.Style
	Title    lipgloss.Style
	Border   lipgloss.Style
	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Accent: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")),
		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// TableStyles adapts the bubbles table defaults to the theme.
func (t Theme) TableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}

// EventStyle colours an event type by outcome.
func (t Theme) EventStyle(eventType string) lipgloss.Style {
	switch {
	case eventType == "conn.opened":
		return t.OK
	case eventType == "conn.rejected", strings.HasSuffix(eventType, ".failed"):
		return t.Failed
	case strings.HasSuffix(eventType, ".dropped"), strings.HasPrefix(eventType, "system."):
		return t.Warn
	case strings.HasPrefix(eventType, "registry."):
		return t.Accent
	default:
		return t.Dim
	}
}

// Pulse lights up on activity and fades over the following seconds.
type Pulse struct {
	level int
	last  int64
}

const pulseWidth = 5

// Hit records activity at unix second now.
func (p *Pulse) Hit(now int64) {
	p.level = pulseWidth
	p.last = now
}

// Fade drops one level for every two seconds of silence.
func (p *Pulse) Fade(now int64) {
	if p.level == 0 {
		return
	}
	p.level = pulseWidth - int(now-p.last)/2
	if p.level < 0 {
		p.level = 0
	}
}

func (p Pulse) Render(t Theme) string {
	var b strings.Builder
	for i := 0; i < pulseWidth; i++ {
		if i < p.level {
			b.WriteString(t.PulseOn.Render("●"))
		} else {
			b.WriteString(t.PulseOff.Render("○"))
		}
	}
	return b.String()
}
