// Package ticker drives the periodic stats broadcast: on every period it asks
// a stats.Provider for a snapshot and publishes it to all observers.
package ticker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/epiphany-db/monitor/internal/metrics"
	"github.com/epiphany-db/monitor/internal/stats"
	"github.com/epiphany-db/monitor/internal/ws"
)

const defaultInterval = time.Second

var errProviderTimeout = errors.New("stats provider timed out")

// Publisher is the part of ws.Broadcaster the ticker needs.
type Publisher interface {
	Publish(ctx context.Context, env ws.Envelope) (ws.PublishResult, error)
}

// Ticker publishes one snapshot per period. Ticks run one at a time; a tick
// that outlasts the period delays the next one and the ticks missed in the
// meantime are coalesced into a single pending tick.
type Ticker struct {
	provider    stats.Provider
	publisher   Publisher
	clock       clockwork.Clock
	interval    time.Duration
	timeout     time.Duration
	messageType ws.MessageType
	logger      *slog.Logger
	metrics     *metrics.Metrics
	source      string
	threshold   int
	immediate   bool
	health      *sourceHealth

	ticks    atomic.Int64
	failures atomic.Int64
}

type Option func(*Ticker)

func WithClock(clock clockwork.Clock) Option {
	return func(t *Ticker) { t.clock = clock }
}

func WithInterval(d time.Duration) Option {
	return func(t *Ticker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTimeout bounds each provider call. It defaults to the interval.
func WithTimeout(d time.Duration) Option {
	return func(t *Ticker) { t.timeout = d }
}

func WithMessageType(mt ws.MessageType) Option {
	return func(t *Ticker) {
		if mt != "" {
			t.messageType = mt
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Ticker) { t.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Ticker) { t.metrics = m }
}

// WithImmediateTick makes Run publish once on entry instead of waiting a
// full period for the first snapshot.
func WithImmediateTick(on bool) Option {
	return func(t *Ticker) { t.immediate = on }
}

// WithSource names the stats source in health notifications.
func WithSource(name string) Option {
	return func(t *Ticker) { t.source = name }
}

// WithFailureThreshold sets how many consecutive provider failures mark the
// source failed.
func WithFailureThreshold(n int) Option {
	return func(t *Ticker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

func New(provider stats.Provider, publisher Publisher, opts ...Option) *Ticker {
	t := &Ticker{
		provider:    provider,
		publisher:   publisher,
		clock:       clockwork.NewRealClock(),
		interval:    defaultInterval,
		messageType: ws.MsgStatsUpdate,
		logger:      slog.Default(),
		source:      "stats",
		threshold:   defaultFailureThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.timeout <= 0 {
		t.timeout = t.interval
	}
	t.health = newSourceHealth(t.threshold)
	return t
}

// Run ticks until ctx is cancelled. The ticker is armed before the optional
// immediate tick, so a slow first tick coalesces like any other.
func (t *Ticker) Run(ctx context.Context) {
	tk := t.clock.NewTicker(t.interval)
	defer tk.Stop()

	t.logger.Info("stats ticker started", "interval", t.interval, "message_type", t.messageType)
	if t.immediate {
		t.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stats ticker stopped", "ticks", t.Ticks(), "failures", t.Failures())
			return
		case <-tk.Chan():
			t.tick(ctx)
		}
	}
}

// Ticks returns the number of completed publish cycles.
func (t *Ticker) Ticks() int64 { return t.ticks.Load() }

// Failures returns the number of ticks skipped because of a provider or
// publish error.
func (t *Ticker) Failures() int64 { return t.failures.Load() }

// Health reports the current state of the stats source.
func (t *Ticker) Health() ws.SourceHealthPayload {
	return t.health.payload(t.source, t.clock.Now())
}

func (t *Ticker) tick(ctx context.Context) {
	start := t.clock.Now()

	value, err := t.snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.failures.Add(1)
		t.metrics.RecordTick("provider_error", t.clock.Since(start))
		t.logger.Warn("stats snapshot failed, skipping tick", "error", err)
		if status, changed := t.health.recordFailure(err); changed {
			t.announceHealth(ctx, status)
		}
		return
	}
	if status, changed := t.health.recordSuccess(); changed {
		t.announceHealth(ctx, status)
	}

	res, err := t.publisher.Publish(ctx, ws.Envelope{Type: t.messageType, Data: value})
	if err != nil {
		t.failures.Add(1)
		t.metrics.RecordTick("publish_error", t.clock.Since(start))
		t.logger.Error("stats publish failed", "error", err)
		return
	}

	t.ticks.Add(1)
	t.metrics.RecordTick("published", t.clock.Since(start))
	t.logger.Debug("stats published",
		"attempted", res.Attempted,
		"delivered", res.Delivered,
		"dropped", res.Dropped,
	)
}

type snapshotResult struct {
	value any
	err   error
}

// snapshot calls the provider in its own goroutine so that a provider which
// ignores its context still cannot hold the loop past the timeout.
func (t *Ticker) snapshot(ctx context.Context) (any, error) {
	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan snapshotResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- snapshotResult{err: fmt.Errorf("stats provider panicked: %v", r)}
			}
		}()
		v, err := t.provider.Snapshot(tctx)
		done <- snapshotResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %v", errProviderTimeout, t.timeout)
	}
}

func (t *Ticker) announceHealth(ctx context.Context, status ws.SourceHealthStatus) {
	log := t.logger.With("source", t.source, "status", status)
	if status == ws.StatusHealthy {
		log.Info("stats source recovered")
	} else {
		log.Warn("stats source health changed")
	}

	env := ws.Envelope{Type: ws.MsgSourceHealth, Data: t.Health()}
	if _, err := t.publisher.Publish(ctx, env); err != nil {
		t.logger.Error("source health publish failed", "error", err)
	}
}
