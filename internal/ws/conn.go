package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is one observer session as seen by the registry and broadcaster. Its
// open/closed state belongs to the transport; Send on a closed Conn returns
// an error.
type Conn interface {
	ID() uuid.UUID
	RemoteAddr() string
	Send(data []byte) error
	Close() error
}

// wsConn adapts a gorilla connection. Data writes are serialized by writeMu
// because gorilla allows one concurrent writer; every write carries a
// deadline so a stalled peer costs at most writeTimeout.
type wsConn struct {
	id           uuid.UUID
	conn         *websocket.Conn
	remoteAddr   string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn, remoteAddr string, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.New(),
		conn:         conn,
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) ID() uuid.UUID      { return c.id }
func (c *wsConn) RemoteAddr() string { return c.remoteAddr }

func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(data)
}

// greet runs register and then writes hello, holding the write lock across
// both. A publish that picks c up as soon as it is registered blocks in Send
// until hello is on the wire. Nothing is written when register fails.
func (c *wsConn) greet(register func() error, hello []byte) (registered bool, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := register(); err != nil {
		return false, err
	}
	return true, c.writeLocked(hello)
}

func (c *wsConn) writeLocked(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ping writes a ping control frame. WriteControl is safe to call
// concurrently with Send.
func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a normal-closure frame (best effort) and releases the socket.
// Only the first call has any effect.
func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConn) closeWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
