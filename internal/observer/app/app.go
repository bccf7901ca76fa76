// Package app is the root Bubble Tea model of the observer TUI.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/epiphany-db/monitor/internal/inspect"
	"github.com/epiphany-db/monitor/internal/observer/client"
	"github.com/epiphany-db/monitor/internal/observer/theme"
	"github.com/epiphany-db/monitor/internal/observer/views/debug"
	"github.com/epiphany-db/monitor/internal/observer/views/stats"
	"github.com/epiphany-db/monitor/internal/observer/views/status"
	"github.com/epiphany-db/monitor/internal/ws"
)

// Overlay identifies which panel replaces the stats view.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayCache
	OverlayTree
	OverlayEvents
)

type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	help   help.Model
	width  int
	height int

	statusBar status.Model
	stats     stats.Model
	events    debug.Log

	overlay  Overlay
	cache    table.Model
	cacheErr error
	tree     inspect.Tree
	treeErr  error

	connected bool
}

func New(url string, ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		statusBar: status.New(url),
		stats:     stats.New(),
		events:    debug.New(),
		cache:     newCacheTable(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.ws.Listen(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.stats.Width = msg.Width
		m.help.Width = msg.Width
		m.cache.SetHeight(max(msg.Height-8, 3))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.events.Add(debug.KindWS, "connected to %s (attempt %d)", msg.URL, msg.Attempts)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		m.events.Add(debug.KindError, "disconnected: %v", msg.Err)
		return m, m.ws.Listen(m.ctx)

	case client.HelloMsg:
		m.statusBar.ObserverID = msg.Payload.ObserverID
		m.statusBar.TickInterval = msg.Payload.TickInterval
		m.events.Add(debug.KindWS, "registered as %s", msg.Payload.ObserverID)
		return m, m.ws.ReadLoop(m.ctx)

	case client.StatsMsg:
		m.stats.Update(msg.Values)
		m.statusBar.Updates++
		m.statusBar.LastUpdate = msg.ReceivedAt
		return m, m.ws.ReadLoop(m.ctx)

	case client.SourceHealthMsg:
		p := msg.Payload
		m.statusBar.Health = &p
		kind := debug.KindWS
		if p.Status != ws.StatusHealthy {
			kind = debug.KindError
		}
		m.events.Add(kind, "source %s is %s %s", p.Source, p.Status, p.LastError)
		return m, m.ws.ReadLoop(m.ctx)

	case client.UnknownMsg:
		m.events.Add(debug.KindWS, "ignored message type %q", msg.Type)
		return m, m.ws.ReadLoop(m.ctx)

	case client.CacheMsg:
		m.cacheErr = msg.Err
		if msg.Err != nil {
			m.events.Add(debug.KindHTTP, "cache query failed: %v", msg.Err)
			return m, nil
		}
		m.cache.SetRows(cacheRows(msg.Entries))
		return m, nil

	case client.TreeMsg:
		m.treeErr = msg.Err
		if msg.Err != nil {
			m.events.Add(debug.KindHTTP, "tree query failed: %v", msg.Err)
			return m, nil
		}
		m.tree = msg.Tree
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetchOverlay()
		case m.overlay == OverlayEvents && key.Matches(msg, m.keys.Up):
			m.events.Scroll(1)
			return m, nil
		case m.overlay == OverlayEvents && key.Matches(msg, m.keys.Down):
			m.events.Scroll(-1)
			return m, nil
		case m.overlay == OverlayCache:
			var cmd tea.Cmd
			m.cache, cmd = m.cache.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Cache):
		m.overlay = OverlayCache
		return m, m.fetchOverlay()
	case key.Matches(msg, m.keys.Tree):
		m.overlay = OverlayTree
		return m, m.fetchOverlay()
	case key.Matches(msg, m.keys.Events):
		m.overlay = OverlayEvents
		return m, nil
	}
	return m, nil
}

func (m Model) fetchOverlay() tea.Cmd {
	if m.http == nil {
		return nil
	}
	switch m.overlay {
	case OverlayCache:
		return m.http.FetchCache(m.ctx)
	case OverlayTree:
		return m.http.FetchTree(m.ctx)
	}
	return nil
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch m.overlay {
	case OverlayCache:
		body = m.cacheView()
	case OverlayTree:
		body = m.treeView()
	case OverlayEvents:
		body = m.events.View(m.width, m.height-4)
	default:
		body = m.stats.View()
		if !m.connected {
			body = lipgloss.JoinVertical(lipgloss.Left, body,
				theme.StyleError.Render("  DISCONNECTED. Reconnecting..."))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar.View(),
		body,
		m.help.View(m.keys),
	)
}

func (m Model) cacheView() string {
	title := theme.StyleHeader.Render("PAGE CACHE")
	if m.cacheErr != nil {
		return theme.Panel(max(m.width-2, 40)).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleError.Render(m.cacheErr.Error())))
	}
	return theme.Panel(max(m.width-2, 40)).Render(lipgloss.JoinVertical(lipgloss.Left, title, m.cache.View()))
}

func (m Model) treeView() string {
	title := theme.StyleHeader.Render("B+TREE")
	if m.treeErr != nil {
		return theme.Panel(max(m.width-2, 40)).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleError.Render(m.treeErr.Error())))
	}
	if len(m.tree.Nodes) == 0 {
		return theme.Panel(max(m.width-2, 40)).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleDimmed.Render("Loading...")))
	}
	return theme.Panel(max(m.width-2, 40)).Render(lipgloss.JoinVertical(lipgloss.Left, title, RenderTree(m.tree)))
}

func newCacheTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Page", Width: 6},
			{Title: "Status", Width: 10},
			{Title: "Hits", Width: 6},
			{Title: "Dirty", Width: 6},
			{Title: "Last access", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.Foreground(theme.ColorBright).Background(theme.ColorInfo)
	t.SetStyles(s)
	return t
}

func cacheRows(entries []inspect.CacheEntry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		dirty := ""
		if e.Dirty {
			dirty = "yes"
		}
		rows = append(rows, table.Row{
			fmt.Sprint(e.PageID),
			e.Status,
			fmt.Sprint(e.HitCount),
			dirty,
			e.LastAccess.Format("15:04:05"),
		})
	}
	return rows
}

// RenderTree draws the tree depth first, one node per line, indenting
// children under their parent. Nodes unreachable from the first node are
// not shown.
func RenderTree(t inspect.Tree) string {
	if len(t.Nodes) == 0 {
		return ""
	}
	labels := make(map[int]string, len(t.Nodes))
	for _, n := range t.Nodes {
		labels[n.ID] = n.Label
	}
	children := make(map[int][]int)
	for _, e := range t.Edges {
		children[e.From] = append(children[e.From], e.To)
	}

	var b strings.Builder
	seen := make(map[int]bool)
	var walk func(id int, prefix string, last, root bool)
	walk = func(id int, prefix string, last, root bool) {
		if seen[id] {
			return
		}
		seen[id] = true

		branch, next := "", ""
		if !root {
			branch, next = "├── ", "│   "
			if last {
				branch, next = "└── ", "    "
			}
		}
		b.WriteString(prefix + branch + labels[id] + "\n")

		kids := children[id]
		for i, c := range kids {
			walk(c, prefix+next, i == len(kids)-1, false)
		}
	}
	walk(t.Nodes[0].ID, "", true, true)
	return strings.TrimRight(b.String(), "\n")
}
