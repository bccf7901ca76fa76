// Package stats renders the latest periodic stats payload as a labelled
// table, with the direction of change since the previous update.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"

	"github.com/epiphany-db/monitor/internal/observer/theme"
)

type Model struct {
	Values map[string]any
	prev   map[string]float64
	Width  int
}

func New() Model {
	return Model{prev: make(map[string]float64)}
}

// Update replaces the displayed values, remembering the numeric ones so the
// next update can show a trend.
func (m *Model) Update(values map[string]any) {
	if m.prev == nil {
		m.prev = make(map[string]float64)
	}
	for k, v := range m.Values {
		if f, ok := v.(float64); ok {
			m.prev[k] = f
		}
	}
	m.Values = values
}

func (m Model) View() string {
	title := theme.StyleHeader.Render("ENGINE STATS")
	if len(m.Values) == 0 {
		return theme.Panel(max(m.Width-2, 40)).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleDimmed.Render("Waiting for stats...")))
	}

	keys := make([]string, 0, len(m.Values))
	for k := range m.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{title}
	for _, k := range keys {
		v := m.Values[k]
		line := theme.StyleLabel.Render(Label(k)) + theme.StyleValue.Render(FormatValue(v))
		if f, ok := v.(float64); ok {
			line += " " + m.trend(k, f)
		}
		lines = append(lines, line)
	}
	return theme.Panel(max(m.Width-2, 40)).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) trend(key string, cur float64) string {
	prev, ok := m.prev[key]
	switch {
	case !ok || prev == cur:
		return " "
	case cur > prev:
		return theme.StyleUp.Render("▲")
	default:
		return theme.StyleDown.Render("▼")
	}
}

// Label turns a camelCase or snake_case key into a title.
func Label(key string) string {
	var b strings.Builder
	wordStart := true
	prevLower := false
	for _, r := range key {
		if r == '_' || r == '-' {
			b.WriteRune(' ')
			wordStart, prevLower = true, false
			continue
		}
		if unicode.IsUpper(r) && prevLower {
			b.WriteRune(' ')
		}
		if wordStart {
			r = unicode.ToUpper(r)
			wordStart = false
		}
		b.WriteRune(r)
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return b.String()
}

// FormatValue renders JSON-decoded values. Whole numbers print without a
// fraction, other numbers with two decimals.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.2f", x)
	case bool:
		if x {
			return "yes"
		}
		return "no"
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
