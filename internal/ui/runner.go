package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/phudinh153/camcast/internal/broker"
)

// refreshInterval is how often the dashboard re-reads the session table.
const refreshInterval = time.Second

// Dashboard shows the live session table until the user quits or the
// context ends.
type Dashboard struct {
	model *dashboardModel
	opts  []tea.ProgramOption
}

type refreshMsg time.Time

type dashboardModel struct {
	title    string
	rooms    int
	source   func() []broker.View
	views    []broker.View
	spinner  spinner.Model
	started  time.Time
	quitting bool
}

// NewDashboard creates a dashboard polling source. Extra program options are
// passed to bubbletea.
func NewDashboard(title string, rooms int, source func() []broker.View, opts ...tea.ProgramOption) *Dashboard {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &Dashboard{
		model: &dashboardModel{
			title:   title,
			rooms:   rooms,
			source:  source,
			spinner: s,
			started: time.Now(),
		},
		opts: opts,
	}
}

// Run blocks until q or ctrl+c is pressed, or ctx is done. Neither is an
// error.
func (d *Dashboard) Run(ctx context.Context) error {
	// Inline mode keeps earlier terminal output visible.
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, d.opts...)
	_, err := tea.NewProgram(d.model, opts...).Run()
	if err != nil && (ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled)) {
		return nil
	}
	return err
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *dashboardModel) Init() tea.Cmd {
	m.views = m.source()
	return tea.Batch(m.spinner.Tick, refresh())
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case refreshMsg:
		m.views = m.source()
		return m, refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *dashboardModel) View() string {
	if m.quitting {
		return ""
	}

	counts := make(map[broker.State]int)
	for _, v := range m.views {
		counts[v.State]++
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconCamera, m.title)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s Serving %d rooms for %s  %s %s\n\n",
		m.spinner.View(),
		m.rooms,
		time.Since(m.started).Truncate(time.Second),
		SuccessStyle.Render(fmt.Sprintf("%d connected", counts[broker.StateConnected])),
		WarningStyle.Render(fmt.Sprintf("%d negotiating", counts[broker.StateNegotiating])),
	)
	b.WriteString(NewSessionTable(m.views).View())
	b.WriteString("\n" + FooterStyle.Render("Press q to stop"))
	return b.String()
}
