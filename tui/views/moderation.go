package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type moderationMsg struct {
	changes []db.StatusChange
	err     error
}

// Moderation lists recent status transitions, newest first
type Moderation struct {
	db            *db.Client
	width, height int
	changes       []db.StatusChange
	err           error
	cursor        int
}

func NewModeration(dbClient *db.Client) Moderation {
	return Moderation{db: dbClient}
}

func (m Moderation) Init() tea.Cmd {
	return m.Refresh()
}

func (m Moderation) Refresh() tea.Cmd {
	return func() tea.Msg {
		changes, err := m.db.GetRecentStatusChanges(200)
		return moderationMsg{changes, err}
	}
}

func (m Moderation) SetSize(w, h int) Moderation {
	m.width = w
	m.height = h
	return m
}

// SelectedListing is the listing id under the cursor, for the sweep command
func (m Moderation) SelectedListing() string {
	if m.cursor < 0 || m.cursor >= len(m.changes) {
		return ""
	}
	return m.changes[m.cursor].ListingID
}

func (m Moderation) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case moderationMsg:
		m.changes = msg.changes
		m.err = msg.err
		if m.cursor >= len(m.changes) {
			m.cursor = max(0, len(m.changes)-1)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.changes)-1 {
				m.cursor++
			}
		case "g":
			m.cursor = 0
		}
	}
	return m, nil
}

func (m Moderation) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Status changes"),
		m.renderTable(),
		m.renderDetail(),
	)
}

func (m Moderation) renderTable() string {
	if !m.db.HasPostgres() {
		return styles.Muted.Render("DATABASE_URL not set")
	}
	if m.err != nil {
		return styles.StatusError.Render("Error: " + m.err.Error())
	}
	if len(m.changes) == 0 {
		return styles.Muted.Render("No status changes yet")
	}

	visible := m.height - 8
	if visible < 5 {
		visible = 5
	}
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	end := min(len(m.changes), start+visible)

	lines := []string{styles.TableHeader.Render(fmt.Sprintf("%-16s %-20s %-24s %-12s %s", "WHEN", "LISTING", "NAME", "BY", "TRANSITION"))}
	for i := start; i < end; i++ {
		sc := m.changes[i]
		transition := fmt.Sprintf("%s → %s", sc.PreviousStatus, styles.ForStatus(sc.NewStatus).Render(sc.NewStatus))
		by := sc.ChangedBy
		if by == "" {
			by = "-"
		}
		line := fmt.Sprintf("%-16s %-20s %-24s %-12s %s",
			sc.CreatedAt.Local().Format("01-02 15:04:05"),
			truncate(sc.ListingID, 20), truncate(sc.ListingName, 24), truncate(by, 12), transition)
		if i == m.cursor {
			line = styles.TableSelected.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Moderation) renderDetail() string {
	if m.cursor >= len(m.changes) {
		return ""
	}
	note := m.changes[m.cursor].Note
	if note == "" {
		return ""
	}
	return "\n" + styles.StatLabel.Render("Note: ") + note
}
