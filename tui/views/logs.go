package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var logLevels = []string{"ALL", "DEBUG", "INFO", "WARN", "ERROR"}

type logsMsg struct {
	logs []db.AppLog
}

type Logs struct {
	db            *db.Client
	width, height int
	logs          []db.AppLog
	levelIndex    int
	scrollOffset  int
}

func NewLogs(dbClient *db.Client) Logs {
	return Logs{db: dbClient}
}

func (l Logs) Init() tea.Cmd {
	return l.Refresh()
}

func (l Logs) Refresh() tea.Cmd {
	return func() tea.Msg {
		level := logLevels[l.levelIndex]
		var levelPtr *string
		if level != "ALL" {
			levelPtr = &level
		}
		logs, _ := l.db.GetRecentLogs(200, levelPtr)
		return logsMsg{logs}
	}
}

func (l Logs) SetSize(w, h int) Logs {
	l.width = w
	l.height = h
	return l
}

func (l Logs) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.logs = msg.logs
		l.scrollOffset = 0

	case tea.KeyMsg:
		switch msg.String() {
		case "left":
			if l.levelIndex > 0 {
				l.levelIndex--
				return l, l.Refresh()
			}
		case "right":
			if l.levelIndex < len(logLevels)-1 {
				l.levelIndex++
				return l, l.Refresh()
			}
		case "up", "k":
			if l.scrollOffset > 0 {
				l.scrollOffset--
			}
		case "down", "j":
			if l.scrollOffset < l.maxScroll() {
				l.scrollOffset++
			}
		case "g":
			l.scrollOffset = 0
		case "G":
			l.scrollOffset = l.maxScroll()
		}
	}
	return l, nil
}

func (l Logs) visibleLines() int {
	if l.height-6 < 1 {
		return 10
	}
	return l.height - 6
}

func (l Logs) maxScroll() int {
	return max(0, len(l.logs)-l.visibleLines())
}

func (l Logs) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Worker logs"),
		l.renderFilter(),
		"",
		l.renderLogs(),
	)
}

func (l Logs) renderFilter() string {
	var parts []string
	for i, level := range logLevels {
		if i == l.levelIndex {
			parts = append(parts, styles.TabActive.Render("["+level+"]"))
		} else {
			parts = append(parts, styles.TabInactive.Render(level))
		}
	}
	return "Filter: " + strings.Join(parts, " ") + "  (←/→ to change)"
}

func (l Logs) renderLogs() string {
	if len(l.logs) == 0 {
		return styles.Muted.Render("No logs")
	}

	start := l.scrollOffset
	end := min(len(l.logs), start+l.visibleLines())

	var lines []string
	for i := start; i < end; i++ {
		lines = append(lines, l.formatLog(l.logs[i]))
	}

	header := styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.logs)))
	return header + "\n" + strings.Join(lines, "\n")
}

func (l Logs) formatLog(log db.AppLog) string {
	level := strings.ToUpper(log.Level)

	var levelStyle lipgloss.Style
	switch level {
	case "DEBUG":
		levelStyle = styles.Muted
	case "INFO":
		levelStyle = styles.StatusSuccess
	case "WARN":
		levelStyle = styles.StatusPending
	case "ERROR":
		levelStyle = styles.StatusError
	default:
		levelStyle = lipgloss.NewStyle()
	}

	source := ""
	if log.Source != "" {
		source = fmt.Sprintf("[%s] ", log.Source)
	}

	msg := log.Message
	if maxLen := l.width - 25; maxLen > 3 {
		msg = truncate(msg, maxLen)
	}

	return fmt.Sprintf("%s %s %s%s",
		styles.Muted.Render(log.Timestamp.Local().Format("15:04:05")),
		levelStyle.Render(fmt.Sprintf("%-5s", level)),
		styles.Muted.Render(source),
		msg,
	)
}
