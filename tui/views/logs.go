package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var logLevels = []string{"ALL", "INFO", "WARN", "ERROR"}

type logsMsg struct {
	logs []db.SyncLog
	err  error
}

type Logs struct {
	db            *db.Client
	width, height int
	logs          []db.SyncLog
	levelIndex    int
	source        string // run id or worker name, "" for everything
	scrollOffset  int
	err           error
}

func NewLogs(dbClient *db.Client) Logs {
	return Logs{db: dbClient}
}

func (l Logs) Init() tea.Cmd {
	return l.Refresh()
}

func (l Logs) Refresh() tea.Cmd {
	level, source := logLevels[l.levelIndex], l.source
	return func() tea.Msg {
		logs, err := l.db.GetRecentLogs(300, level, source)
		return logsMsg{logs, err}
	}
}

func (l Logs) SetSize(w, h int) Logs {
	l.width = w
	l.height = h
	return l
}

// FilterSource narrows the view to one run or worker and reloads.
func (l Logs) FilterSource(source string) (Logs, tea.Cmd) {
	l.source = source
	l.scrollOffset = 0
	return l, l.Refresh()
}

func (l Logs) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.logs = msg.logs
		l.err = msg.err
		if l.scrollOffset > l.maxScroll() {
			l.scrollOffset = l.maxScroll()
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "left", "h":
			if l.levelIndex > 0 {
				l.levelIndex--
				return l, l.Refresh()
			}
		case "right", "l":
			if l.levelIndex < len(logLevels)-1 {
				l.levelIndex++
				return l, l.Refresh()
			}
		case "x":
			if l.source != "" {
				return l.FilterSource("")
			}
		case "up", "k":
			if l.scrollOffset > 0 {
				l.scrollOffset--
			}
		case "down", "j":
			if l.scrollOffset < l.maxScroll() {
				l.scrollOffset++
			}
		case "home":
			l.scrollOffset = 0
		case "end":
			l.scrollOffset = l.maxScroll()
		}
	}
	return l, nil
}

func (l Logs) visibleLines() int {
	if l.height < 10 {
		return 10
	}
	return l.height - 6
}

func (l Logs) maxScroll() int {
	return max(len(l.logs)-l.visibleLines(), 0)
}

func (l Logs) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Logs"),
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
	line := "Level: " + strings.Join(parts, " ") + "  (←/→)"
	if l.source != "" {
		line += "  Source: " + styles.StatValue.Render(l.source) + styles.Muted.Render("  (x clears)")
	}
	return line
}

func (l Logs) renderLogs() string {
	if l.err != nil {
		return styles.StatusFailed.Render("error: " + l.err.Error())
	}
	if len(l.logs) == 0 {
		return styles.Muted.Render("No logs")
	}

	start := l.scrollOffset
	end := min(start+l.visibleLines(), len(l.logs))

	lines := []string{styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.logs)))}
	for _, entry := range l.logs[start:end] {
		lines = append(lines, l.formatLog(entry))
	}
	return strings.Join(lines, "\n")
}

func (l Logs) formatLog(entry db.SyncLog) string {
	ts := entry.Timestamp.Local().Format("01-02 15:04:05")
	level := strings.ToUpper(entry.Level)

	var levelStyle lipgloss.Style
	switch level {
	case "INFO":
		levelStyle = styles.StatusOK
	case "WARN":
		levelStyle = styles.StatusPending
	case "ERROR":
		levelStyle = styles.StatusFailed
	default:
		levelStyle = styles.Muted
	}

	msg := entry.Message
	if maxLen := l.width - 34; maxLen > 0 {
		msg = truncate(msg, maxLen)
	}

	return fmt.Sprintf("%s %s %s %s",
		styles.Muted.Render(ts),
		levelStyle.Render(fmt.Sprintf("%-5s", level)),
		styles.Muted.Render(fmt.Sprintf("%-9s", truncate(entry.RunID, 8))),
		msg,
	)
}
