package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recording(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetActiveObservers(3)
	m.RecordPublish(3)
	m.RecordPublish(2)
	m.RecordDrop("closed")
	m.RecordDrop("closed")
	m.RecordDrop("timeout")
	m.RecordRejection("capacity")
	m.RecordTick("published", 10*time.Millisecond)
	m.RecordTick("provider_error", time.Millisecond)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveObservers))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Publishes))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.Deliveries))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Drops.WithLabelValues("closed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Drops.WithLabelValues("timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Rejections.WithLabelValues("capacity")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Ticks.WithLabelValues("published")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Ticks.WithLabelValues("provider_error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TickDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetActiveObservers(1)
		m.RecordPublish(1)
		m.RecordDrop("write")
		m.RecordRejection("rate")
		m.RecordTick("published", time.Second)
	})
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.SetActiveObservers(7)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "monitor_observers_active 7"), "missing gauge in:\n%s", body)
	assert.Contains(t, body, "go_goroutines")
}
