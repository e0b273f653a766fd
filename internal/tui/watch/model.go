package watch

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sensus-gw/internal/events"
)

const (
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
	eventLogLines  = 10
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client *Client

	width  int
	height int

	health    HealthState
	state     *State
	conns     table.Model
	pulse     Pulse
	lastEvent time.Time
	theme     Theme

	stream chan events.Event

	lastError string
}

// New creates a watch model for the ops API at apiURL.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	t := table.New(
		table.WithColumns(connColumns),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(theme.TableStyles())

	return &Model{
		client: NewClient(apiURL, apiKey),
		state:  NewState(),
		conns:  t,
		theme:  theme,
		stream: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.client, 0, m.stream),
		receiveNext(m.stream),
		fetchHealth(m.client),
		fetchConnections(m.client),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetchConnections(m.client)
		}
		var cmd tea.Cmd
		m.conns, cmd = m.conns.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.conns.SetWidth(msg.Width - 8)

	case tickMsg:
		m.pulse.Fade(time.Time(msg).Unix())
		m.refreshTable()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.state.Apply(e)
		m.pulse.Hit(time.Now().Unix())
		m.lastEvent = time.Now()
		m.refreshTable()
		m.lastError = ""
		return m, receiveNext(m.stream)

	case connectionsMsg:
		m.state.Seed(msg)
		m.refreshTable()

	case healthMsg:
		m.health = HealthState{healthMsg: msg, Reachable: true, LastCheck: time.Now()}
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.client)() })

	case streamClosedMsg:
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// Resync the table since conn events may have been missed.
		return m, tea.Batch(
			subscribe(m.client, m.state.LastID, m.stream),
			fetchConnections(m.client),
		)

	case connsErrMsg:
		m.lastError = msg.err.Error()

	case errMsg:
		m.health.Reachable = false
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.client)() })
	}

	return m, nil
}

func (m *Model) refreshTable() {
	m.conns.SetRows(connRows(m.state.Sorted(), time.Now()))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to gateway..."
	}

	parts := []string{
		renderHeader(m.health, m.state.Counters, m.pulse, m.lastEvent, m.theme, m.width),
		renderConnections(m.conns, len(m.state.Conns), m.theme, m.width),
		renderEventLog(m.state.Log, eventLogLines, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select • [r] Resync"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
