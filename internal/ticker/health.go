package ticker

import (
	"sync"
	"time"

	"github.com/epiphany-db/monitor/internal/ws"
)

const defaultFailureThreshold = 3

// sourceHealth counts consecutive provider failures. One failure marks the
// source degraded; threshold failures in a row mark it failed. The ticker
// writes it from the tick loop while Health may read it from elsewhere.
type sourceHealth struct {
	mu          sync.Mutex
	threshold   int
	failures    int
	lastErr     string
	lastEmitted ws.SourceHealthStatus
}

func newSourceHealth(threshold int) *sourceHealth {
	return &sourceHealth{threshold: threshold, lastEmitted: ws.StatusHealthy}
}

// recordSuccess resets the failure streak and reports whether the status
// changed since it was last emitted.
func (h *sourceHealth) recordSuccess() (ws.SourceHealthStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
	return h.emitLocked()
}

func (h *sourceHealth) recordFailure(err error) (ws.SourceHealthStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	return h.emitLocked()
}

func (h *sourceHealth) emitLocked() (ws.SourceHealthStatus, bool) {
	status := h.statusLocked()
	changed := status != h.lastEmitted
	h.lastEmitted = status
	return status, changed
}

func (h *sourceHealth) statusLocked() ws.SourceHealthStatus {
	switch {
	case h.failures >= h.threshold:
		return ws.StatusFailed
	case h.failures > 0:
		return ws.StatusDegraded
	default:
		return ws.StatusHealthy
	}
}

func (h *sourceHealth) payload(source string, now time.Time) ws.SourceHealthPayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ws.SourceHealthPayload{
		Source:              source,
		Status:              h.statusLocked(),
		ConsecutiveFailures: h.failures,
		LastError:           h.lastErr,
		Timestamp:           now,
	}
}
