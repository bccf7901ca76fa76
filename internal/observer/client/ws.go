package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/epiphany-db/monitor/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	readTimeout        = 90 * time.Second
)

var errNotConnected = errors.New("not connected")

// WSClient maintains the observer connection to the monitor server.
type WSClient struct {
	url       string
	dialer    *websocket.Dialer
	baseDelay time.Duration
	maxDelay  time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	statsType ws.MessageType
	// wait is the pause before the next dial. It survives across Listen
	// calls and is cleared once a session has been greeted.
	wait    time.Duration
	greeted bool
}

func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:       url,
		dialer:    websocket.DefaultDialer,
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
		statsType: ws.MsgStatsUpdate,
	}
}

// Listen returns a command that dials until it succeeds or ctx is done. It
// backs off exponentially between failed dials and after sessions that ended
// without a hello, such as a server at capacity closing the upgrade.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		for attempt := 1; ; attempt++ {
			c.mu.Lock()
			wait := c.wait
			c.mu.Unlock()
			if wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}

			conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
			if err == nil {
				c.mu.Lock()
				c.conn = conn
				c.greeted = false
				c.mu.Unlock()
				return WSConnectedMsg{URL: c.url, Attempts: attempt}
			}
			if ctx.Err() != nil {
				return nil
			}

			c.mu.Lock()
			c.backoffLocked()
			c.mu.Unlock()
		}
	}
}

func (c *WSClient) backoffLocked() {
	if c.wait == 0 {
		c.wait = c.baseDelay
		return
	}
	c.wait = min(c.wait*2, c.maxDelay)
}

// ReadLoop returns a command that blocks until the next message the UI cares
// about arrives. Call it again after handling each message.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: errNotConnected}
		}

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		extend := func() { _ = conn.SetReadDeadline(time.Now().Add(readTimeout)) }
		conn.SetPingHandler(func(data string) error {
			extend()
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		})
		extend()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.drop(conn)
				return WSDisconnectedMsg{Err: err}
			}
			extend()

			if msg := c.dispatch(data); msg != nil {
				return msg
			}
		}
	}
}

// Close sends a close frame and tears down the current connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

// drop forgets conn and schedules the next dial: one base delay after a
// greeted session, a longer backoff after one that never got a hello.
func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.greeted {
			c.wait = c.baseDelay
		} else {
			c.backoffLocked()
		}
		c.greeted = false
	}
	c.mu.Unlock()
	conn.Close()
}

type envelope struct {
	Type ws.MessageType `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *WSClient) dispatch(data []byte) tea.Msg {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}

	c.mu.Lock()
	statsType := c.statsType
	c.mu.Unlock()

	switch env.Type {
	case ws.MsgHello:
		var p ws.HelloPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return nil
		}
		c.mu.Lock()
		if p.MessageType != "" {
			c.statsType = p.MessageType
		}
		c.greeted = true
		c.wait = 0
		c.mu.Unlock()
		return HelloMsg{Payload: p}

	case ws.MsgSourceHealth:
		var p ws.SourceHealthPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return nil
		}
		return SourceHealthMsg{Payload: p}

	case statsType:
		return StatsMsg{Type: env.Type, Values: decodeValues(env.Data), ReceivedAt: time.Now()}
	}
	return UnknownMsg{Type: env.Type}
}

func decodeValues(raw json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return obj
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return map[string]any{"value": v}
}
