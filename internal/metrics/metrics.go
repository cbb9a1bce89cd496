// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the service collectors so tests can register them on a
// private registry.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	ReqDuration     *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	AnchorsSynced   *prometheus.CounterVec
	IdempotentHits  prometheus.Counter
	EventsPublished *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"route", "method", "status"},
		),
		ReqDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request duration seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
		),
		AnchorsSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "annotations_anchor_sync_total", Help: "Anchors processed by bulk sync"},
			[]string{"outcome"},
		),
		IdempotentHits: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "annotations_idempotent_replays_total", Help: "Create calls answered from the idempotency cache"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "annotations_events_published_total", Help: "Lifecycle events handed to the broker"},
			[]string{"type", "result"},
		),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.RequestsTotal, m.ReqDuration, m.InFlight, m.AnchorsSynced, m.IdempotentHits, m.EventsPublished,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers on the default registry and panics on conflict.
func (m *Metrics) MustRegister() {
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		panic(err)
	}
}
