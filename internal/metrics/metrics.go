package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "monitor"

// Metrics holds the Prometheus collectors for the fan-out path. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveObservers prometheus.Gauge
	Publishes       prometheus.Counter
	Deliveries      prometheus.Counter
	Drops           *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Ticks           *prometheus.CounterVec
	TickDuration    prometheus.Histogram
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// New creates and registers the fan-out metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveObservers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "observers",
			Name:      "active",
			Help:      "Number of registered observer connections.",
		}),
		Publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "publishes_total",
			Help:      "Total number of Publish calls that reached the send phase.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Total number of messages successfully written to observers.",
		}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "observers",
			Name:      "drops_total",
			Help:      "Observers removed after a failed send, by failure class.",
		}, []string{"reason"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "observers",
			Name:      "rejections_total",
			Help:      "Connection attempts refused before registration, by reason.",
		}, []string{"reason"}),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ticker",
			Name:      "ticks_total",
			Help:      "Ticker cycles by outcome.",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ticker",
			Name:      "tick_duration_seconds",
			Help:      "Time spent building and publishing one snapshot.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	reg.MustRegister(
		m.ActiveObservers,
		m.Publishes,
		m.Deliveries,
		m.Drops,
		m.Rejections,
		m.Ticks,
		m.TickDuration,
	)
	return m
}

func (m *Metrics) SetActiveObservers(n int) {
	if m == nil {
		return
	}
	m.ActiveObservers.Set(float64(n))
}

func (m *Metrics) RecordPublish(delivered int) {
	if m == nil {
		return
	}
	m.Publishes.Inc()
	m.Deliveries.Add(float64(delivered))
}

func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.Drops.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordTick(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(result).Inc()
	m.TickDuration.Observe(elapsed.Seconds())
}
