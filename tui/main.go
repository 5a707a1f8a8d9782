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
	tabCities
	tabLogs
	tabCount
)

var tabNames = []string{"Dashboard", "Cities", "Logs"}

type model struct {
	db            *db.Client
	activeTab     tab
	width, height int
	notification  string
	notifyErr     bool
	notifyUntil   time.Time

	dashboard views.Dashboard
	cities    views.Cities
	logs      views.Logs
}

type tickMsg time.Time
type logTickMsg time.Time

func initialModel(dbClient *db.Client) model {
	return model{
		db:        dbClient,
		activeTab: tabDashboard,
		dashboard: views.NewDashboard(dbClient),
		cities:    views.NewCities(dbClient),
		logs:      views.NewLogs(dbClient),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.cities.Init(),
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

type daemonCommand struct {
	label string
	send  func() error
}

// commandKeys maps a key to the daemon command it queues.
func (m model) commandKeys() map[string]daemonCommand {
	return map[string]daemonCommand{
		"F": {"Full sync queued", func() error { return m.db.SyncFull(false) }},
		"R": {"Full sync from offset 0 queued", func() error { return m.db.SyncFull(true) }},
		"i": {"Incremental sync queued", m.db.SyncIncremental},
		"a": {"Auto sync queued", m.db.SyncAuto},
		"p": {"Pause queued", m.db.Pause},
		"u": {"Resume queued", m.db.Resume},
		"g": {"Geocode worker triggered", m.db.RunGeocode},
		"c": {"Recheck worker triggered", m.db.RunRecheck},
		"m": {"Image backfill triggered", m.db.RunImages},
	}
}

func (m *model) notify(msg string, isErr bool) {
	m.notification = msg
	m.notifyErr = isErr
	m.notifyUntil = time.Now().Add(3 * time.Second)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "1", "2", "3":
			m.activeTab = tab(key[0] - '1')
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "r":
			m.notify("Refreshed", false)
			return m, m.refreshActive()
		case "enter":
			if m.activeTab == tabDashboard {
				if run, ok := m.dashboard.SelectedRun(); ok {
					var cmd tea.Cmd
					m.logs, cmd = m.logs.FilterSource(run.ID)
					m.activeTab = tabLogs
					return m, cmd
				}
			}
		}
		if c, ok := m.commandKeys()[key]; ok {
			if err := c.send(); err != nil {
				m.notify("Command failed: "+err.Error(), true)
			} else {
				m.notify(c.label, false)
			}
			return m, m.dashboard.Refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.cities = m.cities.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.dashboard.Refresh(), m.cities.Refresh(), tickCmd())

	case logTickMsg:
		cmds = append(cmds, logTickCmd())
		if m.activeTab == tabLogs {
			cmds = append(cmds, m.logs.Refresh())
		}
		return m, tea.Batch(cmds...)
	}

	// Data messages go to every view; keys only to the active one.
	switch msg.(type) {
	case tea.KeyMsg:
		switch m.activeTab {
		case tabDashboard:
			next, cmd := m.dashboard.Update(msg)
			m.dashboard = next.(views.Dashboard)
			cmds = append(cmds, cmd)
		case tabCities:
			next, cmd := m.cities.Update(msg)
			m.cities = next.(views.Cities)
			cmds = append(cmds, cmd)
		case tabLogs:
			next, cmd := m.logs.Update(msg)
			m.logs = next.(views.Logs)
			cmds = append(cmds, cmd)
		}
	default:
		next1, cmd1 := m.dashboard.Update(msg)
		m.dashboard = next1.(views.Dashboard)
		next2, cmd2 := m.cities.Update(msg)
		m.cities = next2.(views.Cities)
		next3, cmd3 := m.logs.Update(msg)
		m.logs = next3.(views.Logs)
		cmds = append(cmds, cmd1, cmd2, cmd3)
	}

	return m, tea.Batch(cmds...)
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabCities:
		return m.cities.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m model) renderTabs() string {
	var rendered []string
	for i, name := range tabNames {
		label := fmt.Sprintf("%d %s", i+1, name)
		if tab(i) == m.activeTab {
			rendered = append(rendered, styles.TabActive.Render(label))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.View()
	case tabCities:
		return m.cities.View()
	case tabLogs:
		return m.logs.View()
	}
	return ""
}

func (m model) renderStatusBar() string {
	left := "F full  R reset  i incr  a auto  p pause  u resume  g geo  c recheck  m images  r refresh  q quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		if m.notifyErr {
			right = styles.StatusFailed.Render(m.notification)
		} else {
			right = styles.Notification.Render(m.notification)
		}
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)
	return styles.StatusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}

func main() {
	_ = godotenv.Load()

	sqlitePath := os.Getenv("DB_PATH")
	if sqlitePath == "" {
		sqlitePath = "ingest.db"
	}

	dbClient, err := db.New(os.Getenv("DATABASE_URL"), sqlitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	p := tea.NewProgram(initialModel(dbClient), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
