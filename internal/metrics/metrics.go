package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts individual execution attempts per operation class
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txpilot_attempts_total",
			Help: "Total number of execution attempts",
		},
		[]string{"operation"},
	)

	// RetriesTotal counts backoff retries per operation class
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txpilot_retries_total",
			Help: "Total number of retried attempts",
		},
		[]string{"operation"},
	)

	// BreakerState exposes the circuit breaker state (0=closed, 1=open, 2=half-open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txpilot_breaker_state",
			Help: "Circuit breaker state per operation class",
		},
		[]string{"class"},
	)

	// OperationsSettledTotal counts settled operations by terminal status
	OperationsSettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txpilot_operations_settled_total",
			Help: "Total number of operations settled, by terminal status",
		},
		[]string{"status"},
	)

	// OperationsActive tracks operations currently in flight
	OperationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txpilot_operations_active",
			Help: "Number of operations currently in flight",
		},
	)

	// EventsPublishedTotal counts lifecycle events delivered to subscribers
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txpilot_events_published_total",
			Help: "Total number of lifecycle events published",
		},
		[]string{"type"},
	)

	// ConfirmationDuration tracks time from submission to settlement
	ConfirmationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txpilot_confirmation_duration_seconds",
			Help:    "Time from submission to settlement in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"outcome"},
	)
)
