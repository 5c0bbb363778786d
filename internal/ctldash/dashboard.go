// Package ctldash is a small Bubble Tea status dashboard for
// cmd/swerex-ctl. It has no knowledge of containers or HTTP; it renders
// whatever a Lister hands it, polled on a tick.
package ctldash

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// DeploymentStatus is one row of the dashboard: a deployment and what the
// controller currently believes about it.
type DeploymentStatus struct {
	Name    string
	Image   string
	State   string
	Port    int
	Alive   bool
	Message string
}

// Lister is polled on every tick to refresh the dashboard's rows.
// swerex-ctl points this at the deployments it started itself; tests
// point it at a fixed slice.
type Lister func(ctx context.Context) ([]DeploymentStatus, error)

var (
	titleStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#0066CC")).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1).
			Bold(true)

	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CC0000"))

	pollInterval = 2 * time.Second
)

type tickMsg time.Time

type refreshMsg struct {
	rows []DeploymentStatus
	err  error
}

// Model is the dashboard's Bubble Tea model.
type Model struct {
	ctx    context.Context
	lister Lister

	rows     []DeploymentStatus
	lastErr  error
	width    int
	height   int
	cursor   int
	quitting bool
}

// New builds a dashboard model that polls lister every pollInterval.
func New(ctx context.Context, lister Lister) Model {
	return Model{ctx: ctx, lister: lister}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		rows, err := m.lister(m.ctx)
		return refreshMsg{rows: rows, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())
	case refreshMsg:
		m.rows = msg.rows
		m.lastErr = msg.err
		if m.cursor >= len(m.rows) {
			m.cursor = max(0, len(m.rows)-1)
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
			return m, nil
		}
	}
	return m, nil
}

func (m Model) View() tea.View {
	return tea.NewView(m.render())
}

func (m Model) render() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("swerex-ctl  %d deployment(s)", len(m.rows))))
	b.WriteString("\n\n")

	if m.lastErr != nil {
		b.WriteString(errStyle.Render("error: "+m.lastErr.Error()) + "\n\n")
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-10s %-7s %-22s %-6s %s", "NAME", "STATE", "ALIVE", "IMAGE", "PORT", "MESSAGE")))
	b.WriteString("\n")

	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("  no active deployments\n"))
	}
	for i, row := range m.rows {
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		status := "dead"
		if row.Alive {
			status = "alive"
		}
		line := fmt.Sprintf("%s%-24s %-10s %-7s %-22s %-6d %s", marker, row.Name, row.State, status, row.Image, row.Port, row.Message)
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + dimStyle.Render("↑/↓ select · r refresh · q quit"))
	return b.String()
}
