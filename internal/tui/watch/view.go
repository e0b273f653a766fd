package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sensus-gw/internal/events"
)

// HealthState tracks gateway health from /healthz polling.
type HealthState struct {
	healthMsg
	Reachable bool
	LastCheck time.Time
}

var connColumns = []table.Column{
	{Title: "ID", Width: 20},
	{Title: "Origin", Width: 24},
	{Title: "Remote", Width: 21},
	{Title: "Age", Width: 9},
	{Title: "Fail", Width: 5},
}

func connRows(conns []*ConnState, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(conns))
	for _, cs := range conns {
		origin := cs.Origin
		if origin == "" {
			origin = "-"
		}
		age := "-"
		if !cs.OpenedAt.IsZero() {
			age = formatDuration(now.Sub(cs.OpenedAt))
		}
		rows = append(rows, table.Row{
			cs.ID,
			origin,
			cs.RemoteAddr,
			age,
			fmt.Sprintf("%d", cs.Failed),
		})
	}
	return rows
}

func renderHeader(h HealthState, c Counters, pulse Pulse, lastEvent time.Time, theme Theme, width int) string {
	innerWidth := width - 4

	status := theme.OK.Render("HEALTHY")
	switch {
	case !h.Reachable:
		status = theme.Failed.Render("UNREACHABLE")
	case h.Status != "ok" && h.Status != "":
		status = theme.Warn.Render(strings.ToUpper(h.Status))
	case h.PluginsFailed > 0:
		status = theme.Warn.Render("DEGRADED")
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	title := " SENSUS WATCH"
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	load := fmt.Sprintf("%d/%d", h.InFlight, h.Capacity)
	if h.Capacity > 0 && h.InFlight >= h.Capacity {
		load = theme.Warn.Render(load)
	}
	statsLine := fmt.Sprintf(" %s  up %s  conns %d  plugins %d (%d failed)  load %s",
		status,
		formatDuration(time.Duration(h.UptimeSeconds)*time.Second),
		h.Connections,
		h.PluginsLoaded,
		h.PluginsFailed,
		load,
	)

	last := "never"
	if !lastEvent.IsZero() {
		last = time.Since(lastEvent).Round(time.Second).String() + " ago"
	}
	countsLine := fmt.Sprintf(" opened %d  closed %d (%d unclean)  rejected %d  dropped %d  failed %d  reloads %d",
		c.Opened, c.Closed, c.Unclean, c.Rejected, c.Dropped, c.Failed, c.Reloads)
	activityLine := fmt.Sprintf(" last event %s %s", last, pulse.Render(theme))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, countsLine, activityLine),
	)
}

func renderConnections(t table.Model, count int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("CONNECTIONS (%d)", count))
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No live connections")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func renderEventLog(log []events.Event, limit int, theme Theme, width int) string {
	title := theme.Title.Render("EVENT STREAM")
	if len(log) == 0 {
		return theme.Border.Width(width - 4).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Waiting for events...")),
		)
	}

	var lines []string
	for i, e := range log {
		if i >= limit {
			break
		}
		ts := theme.Dim.Render(e.At.Format("15:04:05"))
		typ := theme.EventStyle(e.Type).Render(fmt.Sprintf("%-18s", e.Type))
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, typ, describe(e)))
	}
	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
