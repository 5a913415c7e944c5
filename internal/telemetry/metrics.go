// Package telemetry provides observability primitives for the CFX gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	QuotaDenials       prometheus.Counter
	ActiveStreams      prometheus.Gauge
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	LogQueueDepth      prometheus.Gauge
	LogDropped         prometheus.Counter
	UpstreamRetries    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "requests_total",
			Help:      "Total number of completion requests by stage, model, and status.",
		}, []string{"stage", "model", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "cfx",
			Name:                            "request_duration_seconds",
			Help:                            "Completion request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"stage"}),

		QuotaDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "quota_denials_total",
			Help:      "Total requests denied by the daily quota.",
		}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cfx",
			Name:      "active_streams",
			Help:      "Number of currently active streaming responses.",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cfx",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),

		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "breaker_transitions_total",
			Help:      "Total circuit breaker state transitions by target state.",
		}, []string{"name", "to"}),

		LogQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cfx",
			Name:      "log_queue_depth",
			Help:      "Current number of queued request log entries.",
		}),

		LogDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "log_entries_dropped_total",
			Help:      "Total request log entries dropped on a full queue.",
		}),

		UpstreamRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "upstream_retries_total",
			Help:      "Total retry attempts against the upstream proxy.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.QuotaDenials,
		m.ActiveStreams,
		m.BreakerState,
		m.BreakerTransitions,
		m.LogQueueDepth,
		m.LogDropped,
		m.UpstreamRetries,
	)

	return m
}
