package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/epiphany-db/monitor/internal/metrics"
)

const defaultSendConcurrency = 32

// DropEvent describes an observer removed because a send to it failed.
type DropEvent struct {
	ConnID     uuid.UUID
	RemoteAddr string
	Reason     DropReason
	Err        error
	// Removed is false when the observer had already left the registry
	// through another path before the failed send was handled.
	Removed bool
}

// PublishResult summarizes one Publish call.
type PublishResult struct {
	Attempted int
	Delivered int
	Dropped   int
}

// Broadcaster delivers envelopes to every registered observer.
type Broadcaster struct {
	registry    *Registry
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
	onDrop      func(DropEvent)
}

type Option func(*Broadcaster)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithSendConcurrency bounds the number of in-flight sends per Publish.
func WithSendConcurrency(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithDropHook installs fn to observe every swallowed send failure. fn is
// called from send goroutines and must be safe for concurrent use.
func WithDropHook(fn func(DropEvent)) Option {
	return func(b *Broadcaster) { b.onDrop = fn }
}

func NewBroadcaster(registry *Registry, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		registry:    registry,
		logger:      slog.Default(),
		concurrency: defaultSendConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends env to every observer in a snapshot of the registry, at most
// once each. Observers whose send fails are unregistered and closed before
// Publish returns; those failures are never returned. The only error is
// ErrEncode, when env cannot be marshaled, in which case nothing is sent.
// Sends already started are not interrupted by ctx, but once ctx is done no
// further sends are started.
func (b *Broadcaster) Publish(ctx context.Context, env Envelope) (PublishResult, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return PublishResult{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	conns := b.registry.Snapshot()

	var delivered, dropped atomic.Int64
	var g errgroup.Group
	g.SetLimit(b.concurrency)

	attempted := 0
	for _, c := range conns {
		if ctx.Err() != nil {
			break
		}
		attempted++
		g.Go(func() error {
			if err := b.send(c, data); err != nil {
				b.drop(c, err)
				dropped.Add(1)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := PublishResult{
		Attempted: attempted,
		Delivered: int(delivered.Load()),
		Dropped:   int(dropped.Load()),
	}
	b.metrics.RecordPublish(res.Delivered)
	return res, nil
}

func (b *Broadcaster) send(c Conn, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return c.Send(data)
}

func (b *Broadcaster) drop(c Conn, err error) {
	removed := b.registry.Unregister(c)
	_ = c.Close()

	ev := DropEvent{
		ConnID:     c.ID(),
		RemoteAddr: c.RemoteAddr(),
		Reason:     ClassifySendError(err),
		Err:        err,
		Removed:    removed,
	}

	level := slog.LevelDebug
	if ev.Reason == DropPanic || ev.Reason == DropWrite {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "dropping observer after failed send",
		"observer_id", ev.ConnID, "remote_addr", ev.RemoteAddr, "reason", ev.Reason, "error", err)

	b.metrics.RecordDrop(string(ev.Reason))
	if b.onDrop != nil {
		b.onDrop(ev)
	}
}
