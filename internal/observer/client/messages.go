package client

import (
	"time"

	"github.com/epiphany-db/monitor/internal/inspect"
	"github.com/epiphany-db/monitor/internal/ws"
)

// --- Bubble Tea messages ---

// WSConnectedMsg is sent once the dial succeeds.
type WSConnectedMsg struct {
	URL      string
	Attempts int
}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// HelloMsg carries the greeting the server sends on every new connection.
type HelloMsg struct{ Payload ws.HelloPayload }

// StatsMsg delivers one periodic stats envelope. Values holds the decoded
// data object; a non-object payload is stored under the "value" key.
type StatsMsg struct {
	Type       ws.MessageType
	Values     map[string]any
	ReceivedAt time.Time
}

// SourceHealthMsg reports a change in the server's stats source health.
type SourceHealthMsg struct{ Payload ws.SourceHealthPayload }

// UnknownMsg reports an envelope whose type the client does not handle.
type UnknownMsg struct{ Type ws.MessageType }

// CacheMsg is the result of a page cache query.
type CacheMsg struct {
	Entries []inspect.CacheEntry
	Err     error
}

// TreeMsg is the result of a B+tree structure query.
type TreeMsg struct {
	Tree inspect.Tree
	Err  error
}
