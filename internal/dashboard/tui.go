// Package dashboard renders a read-only terminal status view over
// orchestrator snapshots.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tetherlabs/tether/internal/connector"
	"github.com/tetherlabs/tether/internal/orchestrator"
	"github.com/tetherlabs/tether/internal/resilience"
)

// Panel width (all panels same width)
const (
	panelTotalWidth = 69
	panelInnerWidth = 65
)

// refreshInterval is how often the view pulls a fresh snapshot.
const refreshInterval = time.Second

// SnapshotFunc produces the current runtime status.
type SnapshotFunc func() orchestrator.StatusSnapshot

// Styles (muted terminal aesthetic)
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3d4450")) // slate

	connectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7ec699")) // sage green

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4a054")) // amber

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9d1d9"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))
)

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// Model is the bubbletea model for the status dashboard.
type Model struct {
	snapshot SnapshotFunc
	current  orchestrator.StatusSnapshot
	quitting bool
}

// NewModel creates a dashboard model over a snapshot source.
func NewModel(snapshot SnapshotFunc) Model {
	return Model{
		snapshot: snapshot,
		current:  snapshot(),
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(snapshot SnapshotFunc) error {
	_, err := tea.NewProgram(NewModel(snapshot), tea.WithAltScreen()).Run()
	return err
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		m.current = m.snapshot()
		return m, tick()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("TETHER"))
	b.WriteString(dimStyle.Render("  agent connector"))
	b.WriteString("\n\n")
	b.WriteString(m.connectionPanel())
	b.WriteString("\n")
	b.WriteString(m.healthPanel())
	b.WriteString("\n")
	b.WriteString(m.eventsPanel())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("  q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) connectionPanel() string {
	var content strings.Builder
	w := panelInnerWidth
	snap := m.current

	content.WriteString(dotLeader("State", stateStyle(snap.State).Render(string(snap.State)), w))
	content.WriteString("\n")
	if snap.DeviceName != "" {
		content.WriteString(dotLeader("Device", snap.DeviceName, w))
		content.WriteString("\n")
	}
	if snap.ConnectorID != "" {
		content.WriteString(dotLeader("Connector", snap.ConnectorID, w))
		content.WriteString("\n")
	}
	if !snap.RegisteredAt.IsZero() {
		content.WriteString(dotLeader("Registered", snap.RegisteredAt.Local().Format("2006-01-02 15:04"), w))
		content.WriteString("\n")
	}

	chatValue := dimStyle.Render("idle")
	if snap.ChatRunning {
		chatValue = connectedStyle.Render("running")
	}
	content.WriteString(dotLeader("Chat", chatValue, w))

	return renderPanel("CONNECTION", content.String())
}

func (m Model) healthPanel() string {
	var content strings.Builder
	w := panelInnerWidth
	snap := m.current

	tierValue := connectedStyle.Render(string(snap.Tier))
	switch snap.Tier {
	case resilience.TierLimited:
		tierValue = pendingStyle.Render(string(snap.Tier))
	case resilience.TierOffline:
		tierValue = failedStyle.Render(string(snap.Tier))
	}
	content.WriteString(dotLeader("Tier", tierValue, w))
	content.WriteString("\n")

	networkValue := connectedStyle.Render("online")
	if !snap.Online {
		networkValue = failedStyle.Render("offline")
	}
	content.WriteString(dotLeader("Network", networkValue, w))
	content.WriteString("\n")

	executorValue := connectedStyle.Render(snap.ExecutorName)
	if !snap.ExecutorAvailable {
		executorValue = failedStyle.Render(snap.ExecutorName + " (unavailable)")
	}
	content.WriteString(dotLeader("Executor", executorValue, w))
	content.WriteString("\n")

	content.WriteString(dotLeader("Errors", fmt.Sprintf("%d total, %d consecutive", snap.TotalErrors, snap.ConsecutiveFailures), w))
	if snap.LastError != "" {
		content.WriteString("\n")
		content.WriteString(dimStyle.Render("  " + truncate(snap.LastError, w-2)))
	}

	return renderPanel("HEALTH", content.String())
}

func (m Model) eventsPanel() string {
	var content strings.Builder
	snap := m.current

	if len(snap.Events) == 0 {
		content.WriteString(dimStyle.Render("  no events yet"))
	} else {
		// Newest last, show the tail.
		events := snap.Events
		if len(events) > 8 {
			events = events[len(events)-8:]
		}
		for i, ev := range events {
			line := fmt.Sprintf("  %s  %s %s",
				dimStyle.Render(ev.Time.Local().Format("15:04:05")),
				labelStyle.Render(ev.Kind),
				dimStyle.Render(truncate(ev.Detail, 30)),
			)
			content.WriteString(line)
			if i < len(events)-1 {
				content.WriteString("\n")
			}
		}
	}

	return renderPanel("EVENTS", content.String())
}

func stateStyle(state connector.State) lipgloss.Style {
	switch state {
	case connector.StateConnected:
		return connectedStyle
	case connector.StatePairing:
		return pendingStyle
	case connector.StateError, connector.StateDisconnected:
		return failedStyle
	default:
		return dimStyle
	}
}

// renderPanel draws a titled box around content.
func renderPanel(title, content string) string {
	var b strings.Builder

	header := fmt.Sprintf("┌─ %s ", title)
	b.WriteString(borderStyle.Render(header + strings.Repeat("─", maxInt(0, panelTotalWidth-len([]rune(header))-1)) + "┐"))
	b.WriteString("\n")
	for _, line := range strings.Split(content, "\n") {
		b.WriteString(borderStyle.Render("│"))
		b.WriteString(" " + line)
		b.WriteString("\n")
	}
	b.WriteString(borderStyle.Render("└" + strings.Repeat("─", panelTotalWidth-2) + "┘"))
	b.WriteString("\n")
	return b.String()
}

// dotLeader renders "Label ......... value" within width.
func dotLeader(label, value string, width int) string {
	plain := lipgloss.Width(value)
	dots := width - len(label) - plain - 4
	if dots < 1 {
		dots = 1
	}
	return fmt.Sprintf("  %s %s %s",
		labelStyle.Render(label),
		dimStyle.Render(strings.Repeat(".", dots)),
		value,
	)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
