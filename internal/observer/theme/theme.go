// Package theme holds the Lip Gloss palette and shared styles for the
// observer TUI. It has no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#06b6d4")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorInfo    = lipgloss.Color("#2563eb")
)

var (
	StyleHeader = lipgloss.NewStyle().Bold(true).Foreground(ColorBright)
	StyleDimmed = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleLabel  = lipgloss.NewStyle().Foreground(ColorDimmed).Width(18)
	StyleValue  = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	StyleUp     = lipgloss.NewStyle().Foreground(ColorHealthy)
	StyleDown   = lipgloss.NewStyle().Foreground(ColorDanger)
	StyleError  = lipgloss.NewStyle().Foreground(ColorDanger)
)

// Panel returns the bordered box used for every top-level section.
func Panel(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)
}

// CacheStatusColor colors a page cache entry status.
func CacheStatusColor(status string) lipgloss.Color {
	switch status {
	case "Active":
		return ColorHealthy
	case "Evictable":
		return ColorWarning
	default:
		return ColorDimmed
	}
}
