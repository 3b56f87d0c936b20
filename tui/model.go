package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stagecoach-run/stagecoach/executor"
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

var (
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

type model struct {
	state         *State
	cancel        context.CancelFunc
	viewport      viewport.Model
	logView       viewport.Model
	selectedIdx   int
	showingLogs   bool
	logAutoscroll bool
	done          bool
}

func newModel(state *State, cancel context.CancelFunc) *model {
	return &model{
		state:         state,
		cancel:        cancel,
		viewport:      viewport.New(160, 40),
		logView:       viewport.New(160, 20),
		logAutoscroll: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.done = true
			m.cancel()
			return m, tea.Quit
		case "up", "k":
			if !m.showingLogs {
				if n := len(m.state.order); n > 0 {
					m.selectedIdx = (m.selectedIdx - 1 + n) % n
				}
			} else {
				m.logAutoscroll = false
				m.logView, cmd = m.logView.Update(msg)
				cmds = append(cmds, cmd)
			}
		case "down", "j":
			if !m.showingLogs {
				if n := len(m.state.order); n > 0 {
					m.selectedIdx = (m.selectedIdx + 1) % n
				}
			} else {
				m.logView, cmd = m.logView.Update(msg)
				cmds = append(cmds, cmd)
			}
		case "enter", " ":
			m.showingLogs = !m.showingLogs
			if m.showingLogs {
				m.logAutoscroll = true
			}
		case "esc":
			m.showingLogs = false
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 1
		m.logView.Width = msg.Width
		m.logView.Height = msg.Height / 2
		return m, nil
	case tickMsg:
		if m.state.Done() {
			m.done = true
			return m, tea.Quit
		}
		cmds = append(cmds, tickCmd())
	}

	m.viewport.SetContent(m.statusView())
	if m.showingLogs {
		m.updateLogView()
	}
	return m, tea.Batch(cmds...)
}

func (m *model) View() string {
	if m.done {
		return "Finishing up...\n"
	}
	var sb strings.Builder
	sb.WriteString(m.viewport.View())
	if m.showingLogs {
		sb.WriteString("\n\nOutput:\n")
		sb.WriteString(m.logView.View())
	}
	sb.WriteString("\n\033[1mPress q to quit, enter/space to toggle logs, up/down or j/k to navigate\033[0m")
	return sb.String()
}

func (m *model) statusView() string {
	rows := m.state.snapshot()

	var sb strings.Builder
	if m.state.goal != "" {
		sb.WriteString(fmt.Sprintf("Stagecoach Pipeline Status (goal: %s)\n\n", m.state.goal))
	} else {
		sb.WriteString("Stagecoach Pipeline Status\n\n")
	}

	for i, row := range rows {
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}
		label := styleFor(row.status).Render(fmt.Sprintf("%-8s", displayStatus(row.status)))
		sb.WriteString(fmt.Sprintf("%s%-20s | %s | %-10s | %s\n",
			prefix, row.name, label, durationOf(row), row.reason))
	}
	return sb.String()
}

func (m *model) updateLogView() {
	rows := m.state.snapshot()
	if m.selectedIdx >= len(rows) {
		return
	}
	row := rows[m.selectedIdx]
	if len(row.lines) == 0 {
		m.logView.SetContent("no output captured for " + row.name)
		return
	}
	m.logView.SetContent(strings.Join(row.lines, "\n"))
	if m.logAutoscroll {
		m.logView.GotoBottom()
	}
}

// displayStatus is the compact table label; reports keep the full names.
func displayStatus(status executor.Status) string {
	switch status {
	case executor.Pending:
		return "queued"
	case executor.Running:
		return "running"
	case executor.Fresh:
		return "fresh"
	case executor.CacheHit:
		return "cached"
	case executor.Ran:
		return "done"
	case executor.Failed:
		return "failed"
	case executor.Blocked:
		return "blocked"
	}
	return "unknown"
}

func styleFor(status executor.Status) lipgloss.Style {
	switch status {
	case executor.Ran, executor.CacheHit:
		return okStyle
	case executor.Failed:
		return failedStyle
	case executor.Fresh, executor.Blocked:
		return skippedStyle
	}
	return activeStyle
}

func durationOf(row taskRow) string {
	switch {
	case row.status == executor.Running:
		return time.Since(row.started).Round(time.Millisecond).String()
	case row.took > 0:
		return row.took.Round(time.Millisecond).String()
	}
	return "-"
}

// Run drives the live view until the run finishes or the user quits. Quitting
// cancels the run context; the executor keeps draining in the background.
func Run(state *State, cancel context.CancelFunc) error {
	_, err := tea.NewProgram(newModel(state, cancel)).Run()
	return err
}
