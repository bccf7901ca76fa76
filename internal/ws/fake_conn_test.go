package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeConn is an in-memory Conn that records delivered messages.
type fakeConn struct {
	id    uuid.UUID
	delay time.Duration

	mu          sync.Mutex
	msgs        [][]byte
	sendErr     error
	panicOnSend bool
	closeCount  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New()}
}

func (c *fakeConn) ID() uuid.UUID      { return c.id }
func (c *fakeConn) RemoteAddr() string { return "fake:" + c.id.String()[:8] }

func (c *fakeConn) Send(data []byte) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOnSend {
		panic("send exploded")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.msgs = append(c.msgs, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	return nil
}

func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func containsConn(conns []Conn, c Conn) bool {
	for _, x := range conns {
		if x.ID() == c.ID() {
			return true
		}
	}
	return false
}
