package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type citiesMsg struct {
	cities []db.CityStats
	err    error
}

// Cities breaks the listing store down by city.
type Cities struct {
	db            *db.Client
	width, height int
	cities        []db.CityStats
	offset        int
	err           error
}

func NewCities(dbClient *db.Client) Cities {
	return Cities{db: dbClient}
}

func (c Cities) Init() tea.Cmd {
	return c.Refresh()
}

func (c Cities) Refresh() tea.Cmd {
	return func() tea.Msg {
		cities, err := c.db.GetCityStats(200)
		return citiesMsg{cities, err}
	}
}

func (c Cities) SetSize(w, h int) Cities {
	c.width = w
	c.height = h
	return c
}

func (c Cities) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case citiesMsg:
		c.cities = msg.cities
		c.err = msg.err
		c.offset = 0
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if c.offset > 0 {
				c.offset--
			}
		case "down", "j":
			if c.offset < len(c.cities)-c.visibleRows() {
				c.offset++
			}
		}
	}
	return c, nil
}

func (c Cities) visibleRows() int {
	if c.height < 8 {
		return 10
	}
	return c.height - 4
}

func (c Cities) View() string {
	if !c.db.HasListingStore() {
		return styles.Muted.Render("Listing store not configured (DATABASE_URL)")
	}
	if c.err != nil {
		return styles.StatusFailed.Render("error: " + c.err.Error())
	}
	if len(c.cities) == 0 {
		return styles.Muted.Render("No listings yet")
	}

	header := fmt.Sprintf("%-24s %8s %8s %8s %12s %8s", "City", "Active", "Sold", "Leased", "Avg active", "No geo")
	rows := []string{styles.TableHeader.Render(header)}

	end := min(c.offset+c.visibleRows(), len(c.cities))
	for _, s := range c.cities[c.offset:end] {
		avg := "-"
		if s.AvgActive > 0 {
			avg = fmt.Sprintf("$%.0fk", s.AvgActive/1000)
		}
		unlocatable := fmt.Sprintf("%8d", s.Unlocatable)
		if s.Unlocatable > 0 {
			unlocatable = styles.StatusPending.Render(unlocatable)
		}
		rows = append(rows, fmt.Sprintf("%-24s %8d %8d %8d %12s %s",
			truncate(s.City, 24), s.Active, s.Sold, s.Leased, avg, unlocatable))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Cities")+styles.Muted.Render(fmt.Sprintf("[%d-%d/%d]", c.offset+1, end, len(c.cities))),
		strings.Join(rows, "\n"),
	)
}
