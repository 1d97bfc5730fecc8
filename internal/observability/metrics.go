package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/alexsjones/sidekick/internal/sidecar"
)

// SidecarMetrics records supervisor measurements as OTel instruments on the
// global meter provider.
type SidecarMetrics struct {
	spawns   metric.Int64Counter
	requests metric.Int64Counter
	duration metric.Float64Histogram
	events   metric.Int64Counter
}

var _ sidecar.Metrics = (*SidecarMetrics)(nil)

// NewSidecarMetrics creates the instruments. Instruments that fail to
// register are left nil and skipped.
func NewSidecarMetrics() *SidecarMetrics {
	meter := otel.Meter("sidekick/sidecar")
	m := &SidecarMetrics{}
	m.spawns, _ = meter.Int64Counter("sidekick.sidecar.spawns")
	m.requests, _ = meter.Int64Counter("sidekick.sidecar.requests")
	m.duration, _ = meter.Float64Histogram("sidekick.sidecar.request.duration", metric.WithUnit("ms"))
	m.events, _ = meter.Int64Counter("sidekick.sidecar.events")
	return m
}

func (m *SidecarMetrics) Spawned(name string, respawn bool) {
	if m.spawns == nil {
		return
	}
	m.spawns.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("sidecar", name),
		attribute.Bool("respawn", respawn),
	))
}

func (m *SidecarMetrics) Request(name, op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if k := sidecar.KindOf(err); k != 0 {
			outcome = k.String()
		}
	}
	attrs := metric.WithAttributes(
		attribute.String("sidecar", name),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	if m.requests != nil {
		m.requests.Add(context.Background(), 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(context.Background(), float64(d.Milliseconds()), attrs)
	}
}

func (m *SidecarMetrics) Event(name, eventType string, dropped bool) {
	if m.events == nil {
		return
	}
	m.events.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("sidecar", name),
		attribute.String("type", eventType),
		attribute.Bool("dropped", dropped),
	))
}
