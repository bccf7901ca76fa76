package ws

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/gorilla/websocket"
)

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want DropReason
	}{
		{"net closed", net.ErrClosed, DropClosed},
		{"wrapped net closed", fmt.Errorf("write tcp: %w", net.ErrClosed), DropClosed},
		{"close sent", websocket.ErrCloseSent, DropClosed},
		{"close frame", &websocket.CloseError{Code: websocket.CloseGoingAway}, DropClosed},
		{"broken pipe", &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}, DropClosed},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), DropClosed},
		{"deadline", fmt.Errorf("write: %w", os.ErrDeadlineExceeded), DropTimeout},
		{"net timeout", deadlineErr{}, DropTimeout},
		{"panic", &panicError{value: "boom"}, DropPanic},
		{"other", errors.New("something odd"), DropWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySendError(tt.err); got != tt.want {
				t.Errorf("ClassifySendError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
