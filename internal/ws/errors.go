package ws

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/gorilla/websocket"
)

var (
	ErrAlreadyRegistered  = errors.New("observer already registered")
	ErrTooManyConnections = errors.New("too many observer connections")
	ErrRegistryClosed     = errors.New("registry closed")
	ErrEncode             = errors.New("encoding envelope")
)

// DropReason classifies why an observer was removed during a send.
type DropReason string

const (
	DropClosed  DropReason = "closed"
	DropTimeout DropReason = "timeout"
	DropWrite   DropReason = "write"
	DropPanic   DropReason = "panic"
)

// panicError carries a value recovered from a panicking Send.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("send panicked: %v", e.value)
}

// ClassifySendError maps a failed Send to a DropReason. Peer-side closure is
// distinguished from write timeouts so slow observers can be told apart from
// departed ones.
func ClassifySendError(err error) DropReason {
	var pe *panicError
	if errors.As(err, &pe) {
		return DropPanic
	}

	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce),
		errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return DropClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return DropTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return DropTimeout
	}
	return DropWrite
}
