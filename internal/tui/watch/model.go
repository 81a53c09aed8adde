package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pollbridge/internal/events"
)

const (
	eventLogSize = 50
	healthEvery  = 2 * time.Second
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	ctx    context.Context
	cancel context.CancelFunc

	width  int
	height int

	health   HealthState
	tracker  *Tracker
	eventLog []events.Event
	lastID   int64

	ticker  Ticker
	spinner Spinner
	theme   Theme
	table   table.Model

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model for the bridge at apiURL
// (e.g. http://127.0.0.1:44755).
func New(apiURL string) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	theme := NewDefaultTheme()

	t := table.New(
		table.WithColumns(invocationColumns()),
		table.WithFocused(true),
		table.WithHeight(10),
	)
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
	t.SetStyles(s)

	return &Model{
		apiURL:    apiURL,
		ctx:       ctx,
		cancel:    cancel,
		tracker:   NewTracker(),
		eventLog:  make([]events.Event, 0, eventLogSize),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		spinner:   NewSpinner(),
		theme:     theme,
		table:     t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.ctx, m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(m.tableHeight())
		return m, nil

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		m.table.SetRows(m.tracker.Rows(m.theme, time.Now()))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > 0 && e.ID <= m.lastID {
			return m, receiveNextEvent(m.hubEvents)
		}
		if e.ID > 0 {
			m.lastID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}

		m.spinner.OnEvent()
		m.tracker.Apply(e)
		m.table.SetRows(m.tracker.Rows(m.theme, time.Now()))

		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Version = msg.Version
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.Pending = msg.Pending
		m.health.InFlight = msg.InFlight
		m.health.ActivePolls = msg.ActivePolls
		m.health.ExecutorConnected = msg.ExecutorConnected
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(healthEvery, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so
		// the new subscription feeds it directly.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.ctx, m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

// tableHeight leaves room for the header, outcomes, event stream and help.
func (m Model) tableHeight() int {
	h := m.height - 26
	if h < 5 {
		h = 5
	}
	return h
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to bridge..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width)

	invocations := m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render(fmt.Sprintf("INVOCATIONS (%d active)", m.tracker.Active())),
		m.table.View(),
	))
	outcomes := renderOutcomes(m.tracker, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width, 8)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.Failed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll invocations")

	parts := []string{header, invocations, outcomes, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL string) error {
	m := New(apiURL)
	defer m.cancel()
	_, err := tea.NewProgram(m).Run()
	return err
}
