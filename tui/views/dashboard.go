package views

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type dashboardDataMsg struct {
	runs         []db.ReconcileRun
	sweeps       []db.SweepItem
	counts       db.ListingCounts
	pendingSweep int
}

type logTailMsg struct {
	lines        []string
	modTime      time.Time
	daemonActive bool
}

type Dashboard struct {
	db            *db.Client
	width, height int
	runs          []db.ReconcileRun
	sweeps        []db.SweepItem
	counts        db.ListingCounts
	pendingSweep  int
	logLines      []string
	logPath       string
	logScroll     int // 0 = newest
	logBuffer     int
	logModTime    time.Time
	daemonActive  bool
}

func NewDashboard(dbClient *db.Client, logPath string) Dashboard {
	if logPath == "" {
		logPath = "propmarket.log"
	}
	return Dashboard{
		db:        dbClient,
		logPath:   logPath,
		logBuffer: 200,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.RefreshLog())
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		runs, _ := d.db.GetRecentRuns(10)
		sweeps, _ := d.db.GetSweepQueue(8)
		counts, _ := d.db.GetListingCounts()
		pending, _ := d.db.GetPendingSweepCount()
		return dashboardDataMsg{runs, sweeps, counts, pending}
	}
}

func (d Dashboard) RefreshLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(d.logPath, d.logBuffer)
		return logTailMsg{lines, modTime, isDaemonActive()}
	}
}

func isDaemonActive() bool {
	out, err := exec.Command("systemctl", "is-active", "propmarket").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if len(all) == 0 {
		return []string{"(empty log)"}, info.ModTime()
	}
	return all[max(0, len(all)-n):], info.ModTime()
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.runs = msg.runs
		d.sweeps = msg.sweeps
		d.counts = msg.counts
		d.pendingSweep = msg.pendingSweep

	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
		d.daemonActive = msg.daemonActive

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if d.logScroll < len(d.logLines)-1 {
				d.logScroll++
			}
		case "down", "j":
			if d.logScroll > 0 {
				d.logScroll--
			}
		case "G":
			d.logScroll = 0
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	cards := lipgloss.JoinHorizontal(lipgloss.Top,
		d.renderCard("Listings", fmt.Sprintf("%d", d.counts.Total())),
		d.renderCard("Pending", fmt.Sprintf("%d", d.counts.Pending)),
		d.renderCard("Approved", fmt.Sprintf("%d", d.counts.Approved)),
		d.renderCard("Rejected", fmt.Sprintf("%d", d.counts.Rejected)),
		d.renderCard("Media", fmt.Sprintf("%d", d.counts.Media)),
		d.renderCard("Sweeps queued", fmt.Sprintf("%d", d.pendingSweep)),
	)

	left := lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Reconcile runs"),
		d.renderRuns(),
		"",
		styles.Title.Render("Sweep queue"),
		d.renderSweeps(),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		d.renderDaemonStatus(),
		cards,
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", d.renderLog()),
	)
}

func (d Dashboard) renderDaemonStatus() string {
	state := styles.StatusError.Render("● stopped")
	if d.daemonActive {
		state = styles.StatusSuccess.Render("● running")
	}
	updated := "never"
	if !d.logModTime.IsZero() {
		updated = time.Since(d.logModTime).Round(time.Second).String() + " ago"
	}
	pg := ""
	if !d.db.HasPostgres() {
		pg = styles.StatusPending.Render("  (no DATABASE_URL: listing counts unavailable)")
	}
	return fmt.Sprintf("Daemon %s  %s%s", state, styles.Muted.Render("log updated "+updated), pg)
}

func (d Dashboard) renderCard(label, value string) string {
	return styles.Card.Render(styles.StatValue.Render(value) + "\n" + styles.StatLabel.Render(label))
}

func (d Dashboard) renderRuns() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	lines := []string{styles.TableHeader.Render(fmt.Sprintf("%-5s %-9s %-16s %-10s %7s %7s %6s", "ID", "TRIGGER", "STARTED", "STATUS", "ORPHANS", "DELETED", "ERRORS"))}
	for _, r := range d.runs {
		status := r.Status
		if r.DryRun {
			status += "*"
		}
		line := fmt.Sprintf("%-5d %-9s %-16s %s %7d %7d %6d",
			r.ID, truncate(r.Trigger, 9), r.StartedAt.Local().Format("01-02 15:04:05"),
			styles.ForStatus(r.Status).Render(fmt.Sprintf("%-10s", status)),
			r.OrphansFound, r.DeletedCount, r.ErrorsCount)
		lines = append(lines, line)
	}
	lines = append(lines, styles.Muted.Render("* dry run"))
	return strings.Join(lines, "\n")
}

func (d Dashboard) renderSweeps() string {
	if len(d.sweeps) == 0 {
		return styles.Muted.Render("Queue empty")
	}

	lines := []string{styles.TableHeader.Render(fmt.Sprintf("%-20s %-8s %4s %-16s %s", "LISTING", "STATE", "TRY", "ENQUEUED", "LAST ERROR"))}
	for _, s := range d.sweeps {
		state := s.State()
		lines = append(lines, fmt.Sprintf("%-20s %s %4d %-16s %s",
			truncate(s.ListingID, 20),
			styles.ForStatus(state).Render(fmt.Sprintf("%-8s", state)),
			s.Attempts,
			s.EnqueuedAt.Local().Format("01-02 15:04:05"),
			styles.Muted.Render(truncate(s.LastError, 40))))
	}
	return strings.Join(lines, "\n")
}

func (d Dashboard) renderLog() string {
	viewport := d.height - 12
	if viewport < 5 {
		viewport = 5
	}
	width := d.width/2 - 4
	if width < 20 {
		width = 60
	}

	end := len(d.logLines) - d.logScroll
	start := max(0, end-viewport)
	var lines []string
	for _, l := range d.logLines[start:max(start, end)] {
		lines = append(lines, truncate(l, width))
	}

	title := styles.Title.Render("Daemon log")
	if d.logScroll > 0 {
		title += styles.Muted.Render(fmt.Sprintf(" (-%d)", d.logScroll))
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"))
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
