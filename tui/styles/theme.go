package styles

import "github.com/charmbracelet/lipgloss"

var (
	AccentColor  = lipgloss.Color("#0EA5E9")
	HighlightCol = lipgloss.Color("#F59E0B")
	OkColor      = lipgloss.Color("#22C55E")
	WarnColor    = lipgloss.Color("#EAB308")
	FailColor    = lipgloss.Color("#EF4444")
	DimColor     = lipgloss.Color("#6B7280")
	FgColor      = lipgloss.Color("#F9FAFB")

	Muted = lipgloss.NewStyle().Foreground(DimColor)

	TabActive = lipgloss.NewStyle().
			Bold(true).
			Foreground(AccentColor).
			Underline(true).
			Padding(0, 2)

	TabInactive = lipgloss.NewStyle().
			Foreground(DimColor).
			Padding(0, 2)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(AccentColor).
		Padding(0, 1)

	StatusBar = lipgloss.NewStyle().
			Foreground(DimColor).
			Padding(0, 1)

	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(AccentColor).
		Padding(0, 1)

	StateCard = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(HighlightCol).
			Padding(0, 1)

	StatValue = lipgloss.NewStyle().Bold(true).Foreground(FgColor)
	StatLabel = lipgloss.NewStyle().Foreground(DimColor)

	StatusOK      = lipgloss.NewStyle().Foreground(OkColor)
	StatusFailed  = lipgloss.NewStyle().Foreground(FailColor)
	StatusPending = lipgloss.NewStyle().Foreground(WarnColor)

	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(AccentColor)

	TableSelected = lipgloss.NewStyle().
			Background(AccentColor).
			Foreground(FgColor)

	Notification = lipgloss.NewStyle().
			Foreground(OkColor).
			Padding(0, 1)
)

// ForStatus picks the colour for a run or sync status.
func ForStatus(status string) lipgloss.Style {
	switch status {
	case "completed", "idle", "active":
		return StatusOK
	case "failed", "error":
		return StatusFailed
	default:
		return StatusPending
	}
}
