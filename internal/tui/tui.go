// Package tui is the Core operator dashboard: a Bubbletea program that
// polls a StatusProvider once a second and renders host connectivity,
// worker counts by lifecycle state, and the most recent event or error.
// Grounded on the teacher's status dashboard (tui.go), restyled with
// lipgloss the way its activity feed does.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Snapshot is one second's worth of Core state, assembled by a Collector
// from bus events so the dashboard never touches Core's internal maps
// directly.
type Snapshot struct {
	HostsConnected       int
	ProcessesSpawned     int
	StrategiesRegistered int
	ComponentsRegistered int
	WorkersByStatus      map[string]int
	WorkersTotal         int
	LastError            string
	LastEvent            string
	Uptime               time.Duration
}

// StatusProvider returns the current Snapshot. Implementations must be
// safe to call once a second from the Bubbletea update loop.
type StatusProvider func() Snapshot

type model struct {
	provider StatusProvider
	snap     Snapshot
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = m.provider()
		return m, tickCmd()
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

func (m model) View() string {
	lastErr := m.snap.LastError
	errStyle := okStyle
	if lastErr == "" {
		lastErr = "(none)"
	} else {
		errStyle = warnStyle
	}
	lastEvent := m.snap.LastEvent
	if lastEvent == "" {
		lastEvent = "(none)"
	}

	var statuses strings.Builder
	for _, s := range []string{"RUNNING", "STARTING", "STOPPING", "STOPPED"} {
		fmt.Fprintf(&statuses, "  %s: %d\n", s, m.snap.WorkersByStatus[s])
	}

	return fmt.Sprintf(
		"%s\n\nHosts Connected: %d\nProcesses Spawned: %d\nStrategies Registered: %d\nComponents Registered: %d\n\nWorkers (%d total):\n%s\nUptime: %s\nLast Event: %s\nLast Error: %s\n\n%s\n",
		titleStyle.Render("KuiX Core Status"),
		m.snap.HostsConnected,
		m.snap.ProcessesSpawned,
		m.snap.StrategiesRegistered,
		m.snap.ComponentsRegistered,
		m.snap.WorkersTotal,
		statuses.String(),
		m.snap.Uptime.Truncate(time.Second),
		lastEvent,
		errStyle.Render(lastErr),
		dimStyle.Render("Press q to quit."),
	)
}

// Run starts the dashboard and blocks until ctx is cancelled or the user
// quits it. The terminal is reset on exit either way.
func Run(ctx context.Context, provider StatusProvider) error {
	defer bestEffortResetTTY()

	m := model{provider: provider, snap: provider()}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
