// Command brainstormctl is a read-only operator dashboard: it tails a
// running brainstormd's session index and renders live branch status. It
// never opens the branch-state store for writing and never talks to a
// browser session; it only reads the sqlite mirror that brainstormd itself
// keeps up to date, the same way a second reader of a well-formed on-disk
// format is expected to (SPEC_FULL.md §6.3).
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brainstormd/brainstormd/internal/branchstate/index"
	"github.com/brainstormd/brainstormd/internal/config"
)

func main() {
	logger := log.New(os.Stderr, "brainstormctl: ", log.LstdFlags)

	cfg, err := config.Load(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ix, err := index.Open(filepath.Join(cfg.StateDir, "index.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open session index: %v\n", err)
		fmt.Fprintln(os.Stderr, "is brainstormd running, and does it share this state dir?")
		os.Exit(1)
	}
	defer ix.Close()

	p := tea.NewProgram(newModel(ix), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error running dashboard: %v\n", err)
		os.Exit(1)
	}
}

const refreshInterval = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555")).
			MarginTop(1)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F45C5C"))

	doneCellStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3ECF8E"))

	exploringCellStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4C542"))

	tableStyles = func() table.Styles {
		s := table.DefaultStyles()
		s.Header = s.Header.Bold(true).Foreground(lipgloss.Color("#888888")).BorderBottom(true)
		s.Selected = s.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#3A3A3A"))
		return s
	}()
)

var tableColumns = []table.Column{
	{Title: "SESSION", Width: 14},
	{Title: "STATUS", Width: 10},
	{Title: "PROGRESS", Width: 9},
	{Title: "REQUEST", Width: 34},
}

// model is a read-only view over the session index; it never mutates
// anything it reads, and Update never issues a command that could. The
// embedded table.Model only ever has SetRows called on it here, never any
// row-editing command.
type model struct {
	ix       *index.Index
	table    table.Model
	lastErr  error
	tickedAt time.Time
	width    int
	height   int
}

func newModel(ix *index.Index) *model {
	t := table.New(
		table.WithColumns(tableColumns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	t.SetStyles(tableStyles)
	return &model{ix: ix, table: t}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(refreshCmd(m.ix), tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	}))
}

type tickMsg time.Time

type rowsMsg struct {
	rows []index.Row
	err  error
}

func refreshCmd(ix *index.Index) tea.Cmd {
	return func() tea.Msg {
		rows, err := ix.Rows()
		return rowsMsg{rows: rows, err: err}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			return m, refreshCmd(m.ix)
		}

	case tickMsg:
		m.tickedAt = time.Time(msg)
		return m, tea.Batch(refreshCmd(m.ix), tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
			return tickMsg(t)
		}))

	case rowsMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.table.SetRows(renderRows(msg.rows))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func renderRows(rows []index.Row) []table.Row {
	out := make([]table.Row, len(rows))
	for i, row := range rows {
		statusStyle := exploringCellStyle
		if row.Status == "done" {
			statusStyle = doneCellStyle
		}
		request := row.Request
		if len(request) > 34 {
			request = request[:31] + "..."
		}
		out[i] = table.Row{
			row.SessionID,
			statusStyle.Render(row.Status),
			fmt.Sprintf("%d/%d", row.DoneCount, row.BranchCount),
			request,
		}
	}
	return out
}

func (m *model) View() string {
	title := titleStyle.Render("brainstormctl — live session dashboard")

	if m.lastErr != nil {
		return fmt.Sprintf("%s\n\n%s\n\n%s", title, errStyle.Render(fmt.Sprintf("read error: %v", m.lastErr)), footerHint())
	}

	if len(m.table.Rows()) == 0 {
		return fmt.Sprintf("%s\n\n  no active brainstorm sessions\n\n%s", title, footerHint())
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.table.View(), footerHint())
}

func footerHint() string {
	return footerStyle.Render("q quit · r refresh · auto-refreshes every 2s")
}
