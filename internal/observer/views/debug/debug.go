// Package debug keeps a bounded log of connection events and renders it as
// a scrollable overlay.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/epiphany-db/monitor/internal/observer/theme"
)

const maxEntries = 200

type Kind string

const (
	KindWS    Kind = "ws"
	KindError Kind = "err"
	KindHTTP  Kind = "http"
)

type Entry struct {
	Time    time.Time
	Kind    Kind
	Message string
}

type Log struct {
	Entries []Entry
	// Offset counts lines scrolled up from the newest entry.
	Offset int
	now    func() time.Time
}

func New() Log {
	return Log{now: time.Now}
}

func (l *Log) Add(kind Kind, format string, args ...any) {
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	l.Entries = append(l.Entries, Entry{Time: now(), Kind: kind, Message: fmt.Sprintf(format, args...)})
	if over := len(l.Entries) - maxEntries; over > 0 {
		l.Entries = l.Entries[over:]
	}
	l.Offset = 0
}

func (l *Log) Scroll(delta int) {
	l.Offset = min(max(l.Offset+delta, 0), max(len(l.Entries)-1, 0))
}

func (l Log) View(width, height int) string {
	innerW := max(width-4, 20)
	visible := max(height-6, 3)

	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d events", len(l.Entries)))
	panel := lipgloss.NewStyle().
		Width(innerW).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)

	if len(l.Entries) == 0 {
		return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, "", theme.StyleDimmed.Render("No events yet."), "", help))
	}

	end := len(l.Entries) - l.Offset
	start := max(end-visible, 0)

	lines := make([]string, 0, end-start)
	for _, e := range l.Entries[start:end] {
		msg := e.Message
		if limit := innerW - 24; limit > 3 && len(msg) > limit {
			msg = msg[:limit-3] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			theme.StyleDimmed.Render(e.Time.Format("15:04:05.000")),
			lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(5).Render(string(e.Kind)),
			msg))
	}

	more := ""
	if l.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d newer", l.Offset))
	}
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), more, help))
}

func kindColor(k Kind) lipgloss.Color {
	switch k {
	case KindWS:
		return theme.ColorInfo
	case KindError:
		return theme.ColorDanger
	case KindHTTP:
		return theme.ColorWarning
	default:
		return theme.ColorDimmed
	}
}
