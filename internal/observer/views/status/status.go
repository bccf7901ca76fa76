// Package status renders the one-line connection bar.
package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/epiphany-db/monitor/internal/observer/theme"
	"github.com/epiphany-db/monitor/internal/ws"
)

type Model struct {
	Connected    bool
	URL          string
	ObserverID   string
	TickInterval string
	Updates      int
	LastUpdate   time.Time
	Health       *ws.SourceHealthPayload
	Width        int
}

func New(url string) Model {
	return Model{URL: url}
}

func (m Model) View() string {
	width := max(m.Width-2, 40)

	var conn string
	if m.Connected {
		conn = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		conn = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := conn + sep + theme.StyleDimmed.Render(m.URL)

	if m.ObserverID != "" {
		id := m.ObserverID
		if len(id) > 8 {
			id = id[:8]
		}
		content += sep + "observer " + id
	}
	if m.TickInterval != "" {
		content += sep + "every " + m.TickInterval
	}
	content += sep + fmt.Sprintf("%d updates", m.Updates)
	if !m.LastUpdate.IsZero() {
		content += sep + "last " + m.LastUpdate.Format("15:04:05")
	}
	if h := m.Health; h != nil {
		var color lipgloss.Color
		switch h.Status {
		case ws.StatusHealthy:
			color = theme.ColorHealthy
		case ws.StatusDegraded:
			color = theme.ColorWarning
		case ws.StatusFailed:
			color = theme.ColorDanger
		default:
			color = theme.ColorDimmed
		}
		content += sep + lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%s: %s", h.Source, h.Status))
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
