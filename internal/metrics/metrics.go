// Package metrics exposes the runtime's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chessmate/backend/internal/uci"
)

// Metrics holds all Prometheus metrics for the engine-serving runtime.
type Metrics struct {
	// Gateway metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  *prometheus.CounterVec // result: accepted, auth_timeout, auth_failed
	FramesTotal       *prometheus.CounterVec // type: suggestion, analyze, auth, unknown

	// Dispatch metrics
	RequestsTotal   *prometheus.CounterVec // kind, outcome: ok, error, superseded, pool_unavailable
	RequestDuration *prometheus.HistogramVec

	// Pool and queue metrics
	PoolEngines  *prometheus.GaugeVec // kind, state: available, busy
	PoolWaiting  *prometheus.GaugeVec
	QueuePending *prometheus.GaugeVec
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_connections_active",
				Help: "Currently registered WebSocket connections",
			},
		),
		ConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_connections_total",
				Help: "Connection attempts by handshake result",
			},
			[]string{"result"},
		),
		FramesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_frames_total",
				Help: "Inbound frames by type",
			},
			[]string{"type"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_requests_total",
				Help: "Dispatched engine requests by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_request_duration_seconds",
				Help:    "Engine search duration per dispatched request",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		),
		PoolEngines: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_pool_engines",
				Help: "Engines per pool by state",
			},
			[]string{"kind", "state"},
		),
		PoolWaiting: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_pool_waiting",
				Help: "Callers blocked on engine acquisition",
			},
			[]string{"kind"},
		),
		QueuePending: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "request_queue_pending",
				Help: "Pending requests per queue",
			},
			[]string{"kind"},
		),
	}
}

// RequestDispatched implements the dispatcher's Observer interface.
func (m *Metrics) RequestDispatched(kind uci.Kind, outcome string, took time.Duration) {
	m.RequestsTotal.WithLabelValues(kind.String(), outcome).Inc()
	m.RequestDuration.WithLabelValues(kind.String()).Observe(took.Seconds())
}

// ObservePool records a pool snapshot.
func (m *Metrics) ObservePool(kind string, total, available, busy, waiting int) {
	m.PoolEngines.WithLabelValues(kind, "available").Set(float64(available))
	m.PoolEngines.WithLabelValues(kind, "busy").Set(float64(busy))
	m.PoolWaiting.WithLabelValues(kind).Set(float64(waiting))
}

// ObserveQueue records a queue snapshot.
func (m *Metrics) ObserveQueue(kind string, pending int) {
	m.QueuePending.WithLabelValues(kind).Set(float64(pending))
}
