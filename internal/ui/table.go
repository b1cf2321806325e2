package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/phudinh153/camcast/internal/broker"
	"github.com/phudinh153/camcast/internal/files"
	"github.com/phudinh153/camcast/internal/utils"
)

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// SessionTable renders broker sessions using lipgloss/table
type SessionTable struct {
	views []broker.View
	now   func() time.Time
}

// NewSessionTable creates a table of views, already ordered by room.
func NewSessionTable(views []broker.View) *SessionTable {
	return &SessionTable{views: views, now: time.Now}
}

// View renders the table as a string
func (t *SessionTable) View() string {
	if len(t.views) == 0 {
		return MutedStyle.Render("No sessions")
	}

	now := t.now()
	rows := make([][]string, 0, len(t.views))
	for _, v := range t.views {
		connected := "-"
		if !v.ConnectedAt.IsZero() {
			connected = utils.FormatTimeDuration(now.Sub(v.ConnectedAt))
		}
		rows = append(rows, []string{
			utils.TruncateString(v.Room, 20),
			utils.ShortID(v.ID),
			StateStyle(v.State).Render(v.State.String()),
			utils.FormatTimeDuration(now.Sub(v.CreatedAt)),
			connected,
		})
	}

	return newTable([]string{"Room", "Session", "State", "Age", "Connected"}, rows).Render()
}

// Render writes the table to w.
func (t *SessionTable) Render(w io.Writer) {
	fmt.Fprintln(w, t.View())
}

// MediaTableView lists play-from files.
func MediaTableView(media []files.MediaFile) string {
	if len(media) == 0 {
		return MutedStyle.Render("No files")
	}

	rows := make([][]string, 0, len(media))
	for i, m := range media {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			utils.TruncateString(m.Name, 50),
			utils.FormatSize(m.Size),
			fmt.Sprintf("%s (%s)", m.Container, m.Container.Kind()),
		})
	}
	return newTable([]string{"#", "Name", "Size", "Type"}, rows).Render()
}
