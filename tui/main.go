package main

import (
	"fmt"
	"os"
	"time"

	"tui/db"
	"tui/styles"
	"tui/views"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
)

type tab int

const (
	tabDashboard tab = iota
	tabModeration
	tabLogs
)

type model struct {
	db            *db.Client
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time

	dashboard  views.Dashboard
	moderation views.Moderation
	logs       views.Logs
}

type tickMsg time.Time
type logTickMsg time.Time

func initialModel(dbClient *db.Client, logPath string) model {
	return model{
		db:         dbClient,
		activeTab:  tabDashboard,
		dashboard:  views.NewDashboard(dbClient, logPath),
		moderation: views.NewModeration(dbClient),
		logs:       views.NewLogs(dbClient),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.moderation.Init(),
		m.logs.Init(),
		tickCmd(),
		logTickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m *model) notify(text string, err error) {
	if err != nil {
		text = "Error: " + err.Error()
	}
	m.notification = text
	m.notifyUntil = time.Now().Add(2 * time.Second)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
		case "m":
			m.activeTab = tabModeration
		case "l":
			m.activeTab = tabLogs
		case "tab":
			m.activeTab = (m.activeTab + 1) % 3
		case "r":
			m.notify("Refreshed", nil)
			return m, m.refreshActive()
		case "c":
			m.notify("Reconcile command sent!", m.db.ReconcileNow(false))
		case "C":
			m.notify("Dry-run reconcile command sent!", m.db.ReconcileNow(true))
		case "s":
			m.notify("Sweep worker triggered!", m.db.SweepNow())
		case "x":
			if m.activeTab == tabModeration {
				if id := m.moderation.SelectedListing(); id != "" {
					m.notify("Sweep sent for "+id, m.db.SweepListing(id))
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.moderation = m.moderation.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)

	case tickMsg:
		cmds = append(cmds, m.refreshActive(), tickCmd())

	case logTickMsg:
		cmds = append(cmds, m.dashboard.RefreshLog(), logTickCmd())
	}

	// Key messages go to the active tab only, everything else to all views
	switch msg.(type) {
	case tea.KeyMsg:
		switch m.activeTab {
		case tabDashboard:
			next, cmd := m.dashboard.Update(msg)
			m.dashboard = next.(views.Dashboard)
			cmds = append(cmds, cmd)
		case tabModeration:
			next, cmd := m.moderation.Update(msg)
			m.moderation = next.(views.Moderation)
			cmds = append(cmds, cmd)
		case tabLogs:
			next, cmd := m.logs.Update(msg)
			m.logs = next.(views.Logs)
			cmds = append(cmds, cmd)
		}
	default:
		nextDash, cmd1 := m.dashboard.Update(msg)
		m.dashboard = nextDash.(views.Dashboard)
		nextMod, cmd2 := m.moderation.Update(msg)
		m.moderation = nextMod.(views.Moderation)
		nextLogs, cmd3 := m.logs.Update(msg)
		m.logs = nextLogs.(views.Logs)
		cmds = append(cmds, cmd1, cmd2, cmd3)
	}

	return m, tea.Batch(cmds...)
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabModeration:
		return m.moderation.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m model) renderTabs() string {
	tabNames := []string{"Dashboard", "Moderation", "Logs"}
	var rendered []string
	for i, name := range tabNames {
		if tab(i) == m.activeTab {
			rendered = append(rendered, styles.TabActive.Render(name))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.View()
	case tabModeration:
		return m.moderation.View()
	case tabLogs:
		return m.logs.View()
	}
	return ""
}

func (m model) renderStatusBar() string {
	left := "d Dash  m Moderation  l Log  r Refresh  c Reconcile  C Dry-run  s Sweep  x Sweep listing  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = styles.Notification.Render(m.notification)
	}

	gap := max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)
	return styles.StatusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}

func main() {
	_ = godotenv.Load() // Load .env if present

	sqlitePath := os.Getenv("OPS_DB_PATH")
	if sqlitePath == "" {
		sqlitePath = "ops.db"
	}

	logPath := os.Getenv("LOG_FILE")
	if logPath == "" {
		logPath = "propmarket.log"
	}

	dbClient, err := db.New(os.Getenv("DATABASE_URL"), sqlitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	p := tea.NewProgram(
		initialModel(dbClient, logPath),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
