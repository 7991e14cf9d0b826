// Package live renders the dashboard panel of one running target.
package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"crudstress/internal/runner"
	"crudstress/internal/tui/components"
	"crudstress/internal/tui/styles"
)

type Model struct {
	Target   string
	Stats    runner.StatsSnapshot
	Progress progress.Model

	OpsLine     components.Sparkline
	LatencyLine components.Sparkline

	LastUpdate time.Time
	LastOps    int64

	Width int
}

func NewModel(target string) Model {
	return Model{
		Target:      target,
		Progress:    progress.New(progress.WithDefaultGradient()),
		OpsLine:     components.NewSparkline(40, "OPS/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Cycle P99 (ms)", styles.Warn),
		LastUpdate:  time.Now(),
	}
}

// Apply folds a fresh snapshot into the panel. The bar is set without
// animation so the panel can be rendered from a plain value.
func (m Model) Apply(s runner.StatsSnapshot, now time.Time) Model {
	dt := now.Sub(m.LastUpdate).Seconds()
	if dt < 0.01 {
		dt = 0.01
	}
	m.OpsLine.Add(float64(s.Ops-m.LastOps) / dt)
	m.LatencyLine.Add(s.P99Ms)

	m.Stats = s
	m.LastOps = s.Ops
	m.LastUpdate = now
	return m
}

func (m Model) SetWidth(w int) Model {
	m.Width = w
	m.Progress.Width = w - 4
	half := w/2 - 4
	if half < 10 {
		half = 10
	}
	m.OpsLine.Width = half
	m.LatencyLine.Width = half
	return m
}

func (m Model) View() string {
	var s strings.Builder

	title := strings.ToUpper(m.Target)
	if m.Stats.Done {
		title += " (done)"
	}
	s.WriteString(styles.Title.Render(title))
	s.WriteString("\n")

	errRate := 0.0
	if m.Stats.Ops > 0 {
		errRate = float64(m.Stats.Errors) / float64(m.Stats.Ops) * 100
	}
	errColor := styles.Active
	switch {
	case errRate > 5:
		errColor = styles.Error
	case errRate > 1:
		errColor = styles.Warn
	}

	col1 := fmt.Sprintf("OPS: %d\nINF: %d", m.Stats.Ops, m.Stats.Inflight)
	col2 := fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate, m.Stats.Errors)
	col3 := fmt.Sprintf("WRK: %d\nT: %s", m.Stats.Workers, m.Stats.Elapsed.Round(time.Second))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(errColor.Render(col2)),
		styles.Box.Render(col3),
	))
	s.WriteString("\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.OpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n")

	s.WriteString(styles.Subtle.Render(fmt.Sprintf("P50: %.2f ms  |  P99: %.2f ms", m.Stats.P50Ms, m.Stats.P99Ms)))
	s.WriteString("\n")
	s.WriteString(m.Progress.ViewAs(m.Stats.Progress()))
	return s.String()
}
