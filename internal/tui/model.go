// Package tui is the live multi-target dashboard shown while a run is in
// progress.
package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"crudstress/internal/runner"
	"crudstress/internal/tui/live"
	"crudstress/internal/tui/styles"
)

// DoneMsg is sent by the caller once every driver has returned.
type DoneMsg struct{}

// TickInterval is how often drivers should push snapshots.
const TickInterval = 200 * time.Millisecond

type Model struct {
	Panels  []live.Model
	index   map[string]int
	updates <-chan runner.StatsSnapshot
	// stop cancels the run when the user quits early.
	stop func()

	Quitting bool
	Finished bool
	Width    int
}

// NewModel shows one panel per target, fed from updates.
func NewModel(targets []string, updates <-chan runner.StatsSnapshot, stop func()) Model {
	m := Model{
		index:   make(map[string]int, len(targets)),
		updates: updates,
		stop:    stop,
	}
	for i, name := range targets {
		m.index[name] = i
		m.Panels = append(m.Panels, live.NewModel(name))
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.updates)
}

func waitForUpdate(sub <-chan runner.StatsSnapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-sub
		if !ok {
			return DoneMsg{}
		}
		return s
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		for i := range m.Panels {
			m.Panels[i] = m.Panels[i].SetWidth(msg.Width)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.Quitting = true
			if m.stop != nil {
				m.stop()
			}
			return m, tea.Quit
		}

	case runner.StatsSnapshot:
		if i, ok := m.index[msg.Target]; ok {
			m.Panels[i] = m.Panels[i].Apply(msg, time.Now())
		}
		return m, waitForUpdate(m.updates)

	case DoneMsg:
		m.Finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	if m.Quitting {
		return "Stopping, waiting for in-flight cycles...\n"
	}
	var s strings.Builder
	s.WriteString(styles.Active.Render("CRUDSTRESS live"))
	s.WriteString("\n\n")
	for _, p := range m.Panels {
		s.WriteString(p.View())
		s.WriteString("\n\n")
	}
	s.WriteString(styles.RenderKey("q", "stop run"))
	return s.String()
}
