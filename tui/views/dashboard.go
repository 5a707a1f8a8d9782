package views

import (
	"fmt"
	"strings"
	"time"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type dashboardDataMsg struct {
	state   *db.SyncState
	stats   db.ListingStats
	runs    []db.SyncRun
	pending int
	err     error
}

type Dashboard struct {
	db            *db.Client
	width, height int
	state         *db.SyncState
	stats         db.ListingStats
	runs          []db.SyncRun
	pending       int
	selected      int
	err           error
}

func NewDashboard(dbClient *db.Client) Dashboard {
	return Dashboard{db: dbClient}
}

func (d Dashboard) Init() tea.Cmd {
	return d.Refresh()
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		var msg dashboardDataMsg
		msg.state, msg.err = d.db.GetSyncState()
		stats, err := d.db.GetListingStats()
		if err != nil && msg.err == nil {
			msg.err = err
		}
		msg.stats = stats
		runs, err := d.db.GetRecentRuns(15)
		if err != nil && msg.err == nil {
			msg.err = err
		}
		msg.runs = runs
		msg.pending, _ = d.db.PendingCommandCount()
		return msg
	}
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

// SelectedRun is the run under the cursor, used to jump into its logs.
func (d Dashboard) SelectedRun() (db.SyncRun, bool) {
	if d.selected < 0 || d.selected >= len(d.runs) {
		return db.SyncRun{}, false
	}
	return d.runs[d.selected], true
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.state = msg.state
		d.stats = msg.stats
		d.runs = msg.runs
		d.pending = msg.pending
		d.err = msg.err
		if d.selected >= len(d.runs) {
			d.selected = max(len(d.runs)-1, 0)
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if d.selected > 0 {
				d.selected--
			}
		case "down", "j":
			if d.selected < len(d.runs)-1 {
				d.selected++
			}
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	parts := []string{
		styles.Title.Render("Sync"),
		lipgloss.JoinHorizontal(lipgloss.Top, d.renderState(), d.renderStatCards()),
		"",
		styles.Title.Render("Recent Runs"),
		d.renderRunsTable(),
	}
	if d.err != nil {
		parts = append(parts, "", styles.StatusFailed.Render("error: "+d.err.Error()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (d Dashboard) renderState() string {
	if d.state == nil {
		msg := "no listing store"
		if d.db.HasListingStore() {
			msg = "loading..."
		}
		return styles.StateCard.Width(34).Render(styles.Muted.Render(msg))
	}
	s := d.state

	lines := []string{
		styles.StatValue.Render(s.Mode) + "  " + styles.ForStatus(s.Status).Render("● "+s.Status),
		styles.StatLabel.Render(fmt.Sprintf("Offset: %d (batch %d)", s.Offset, s.BatchSize)),
		styles.StatLabel.Render(fmt.Sprintf("Total synced: %d", s.TotalSynced)),
	}
	if s.LastStartedAt != nil {
		lines = append(lines, styles.StatLabel.Render("Started: "+relativeTime(*s.LastStartedAt)))
	}
	if s.LastCompletedAt != nil {
		lines = append(lines, styles.StatLabel.Render("Completed: "+relativeTime(*s.LastCompletedAt)))
	}
	if s.Status == "running" {
		lines = append(lines, styles.StatusPending.Render(fmt.Sprintf("Run: +%d ~%d !%d Δ%d",
			s.RunSynced, s.RunUpdated, s.RunFailed, s.RunStatusChanged)))
	}
	if s.LastError != "" {
		lines = append(lines, styles.StatusFailed.Render(truncate(s.LastError, 30)))
	}
	return styles.StateCard.Width(34).Render(strings.Join(lines, "\n"))
}

func (d Dashboard) renderStatCards() string {
	cards := []string{
		statCard("Listings", d.stats.Total),
		statCard("Active", d.stats.Active),
		statCard("Sold", d.stats.Sold),
		statCard("Leased", d.stats.Leased),
		statCard("No coords", d.stats.MissingCoords),
		statCard("No images", d.stats.MissingImages),
		statCard("Recheck !", d.stats.FailedRechecks),
		statCard("Queued cmds", d.pending),
	}
	top := lipgloss.JoinHorizontal(lipgloss.Top, cards[:4]...)
	bottom := lipgloss.JoinHorizontal(lipgloss.Top, cards[4:]...)
	return lipgloss.JoinVertical(lipgloss.Left, top, bottom)
}

func statCard(label string, value int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.StatValue.Render(fmt.Sprintf("%d", value)),
		styles.StatLabel.Render(label),
	)
	return styles.Card.Width(14).Render(content)
}

func (d Dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	header := fmt.Sprintf("  %-9s %-12s %-10s %-9s %7s %7s %6s %6s %6s %7s",
		"Run", "Mode", "Status", "Started", "Offset", "Synced", "Upd", "Fail", "Δ", "Took")
	rows := []string{styles.TableHeader.Render(header)}

	for i, r := range d.runs {
		row := fmt.Sprintf("%-9s %-12s %s %-9s %7s %7d %6d %6d %6d %7s",
			truncate(r.ID, 8),
			r.Mode,
			styles.ForStatus(r.Status).Render(fmt.Sprintf("%-10s", r.Status)),
			r.StartedAt.Local().Format("15:04:05"),
			fmt.Sprintf("%d→%d", r.StartOffset, r.EndOffset),
			r.Synced, r.Updated, r.Failed, r.StatusChanged,
			formatDuration(r.Duration()),
		)
		if i == d.selected {
			rows = append(rows, styles.TableSelected.Render("▶ "+row))
		} else {
			rows = append(rows, "  "+row)
		}
	}
	return strings.Join(rows, "\n")
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "<1s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return s[:max-1] + "…"
}
