package sidecar

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives supervisor and handle measurements.
type Metrics interface {
	// Spawned records a process start. respawn is true when it replaced a
	// handle that had been live before.
	Spawned(sidecar string, respawn bool)
	// Request records one request/response transaction.
	Request(sidecar, op string, d time.Duration, err error)
	// Event records an event pushed by a sidecar; dropped is true when the
	// event channel was full.
	Event(sidecar, eventType string, dropped bool)
}

type noopMetrics struct{}

func (noopMetrics) Spawned(string, bool)                        {}
func (noopMetrics) Request(string, string, time.Duration, error) {}
func (noopMetrics) Event(string, string, bool)                  {}

// NoopMetrics discards all measurements.
func NoopMetrics() Metrics { return noopMetrics{} }

// PrometheusMetrics implements Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	spawns   *prometheus.CounterVec
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates collectors under namespace and registers them
// on a private registry.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "sidekick"
	}

	pm := &PrometheusMetrics{registry: prometheus.NewRegistry()}

	pm.spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sidecar_spawns_total",
			Help:      "Sidecar processes started, by whether they replaced a crashed one",
		},
		[]string{"sidecar", "respawn"},
	)
	pm.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sidecar_requests_total",
			Help:      "Sidecar requests by outcome kind",
		},
		[]string{"sidecar", "op", "outcome"},
	)
	pm.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sidecar_request_duration_seconds",
			Help:      "Sidecar request round-trip time",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sidecar", "op"},
	)
	pm.events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sidecar_events_total",
			Help:      "Events pushed by sidecars",
		},
		[]string{"sidecar", "type", "dropped"},
	)

	pm.registry.MustRegister(pm.spawns, pm.requests, pm.duration, pm.events)
	return pm
}

// Registry returns the registry holding the collectors.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry { return pm.registry }

func (pm *PrometheusMetrics) Spawned(sidecar string, respawn bool) {
	pm.spawns.WithLabelValues(sidecar, boolLabel(respawn)).Inc()
}

func (pm *PrometheusMetrics) Request(sidecar, op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if k := KindOf(err); k != 0 {
			outcome = k.String()
		}
	}
	pm.requests.WithLabelValues(sidecar, op, outcome).Inc()
	pm.duration.WithLabelValues(sidecar, op).Observe(d.Seconds())
}

func (pm *PrometheusMetrics) Event(sidecar, eventType string, dropped bool) {
	pm.events.WithLabelValues(sidecar, eventType, boolLabel(dropped)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type multiMetrics []Metrics

// MultiMetrics fans measurements out to every m.
func MultiMetrics(ms ...Metrics) Metrics {
	return multiMetrics(ms)
}

func (mm multiMetrics) Spawned(sidecar string, respawn bool) {
	for _, m := range mm {
		m.Spawned(sidecar, respawn)
	}
}

func (mm multiMetrics) Request(sidecar, op string, d time.Duration, err error) {
	for _, m := range mm {
		m.Request(sidecar, op, d, err)
	}
}

func (mm multiMetrics) Event(sidecar, eventType string, dropped bool) {
	for _, m := range mm {
		m.Event(sidecar, eventType, dropped)
	}
}
