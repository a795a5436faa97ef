// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// HTTPRequestDuration observes HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// BridgeTransfersInitiated counts accepted bridge intents per direction
	BridgeTransfersInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "transfers_initiated_total",
			Help:      "Number of bridge transfers created",
		},
		[]string{"direction"},
	)

	// BridgeStatusTransitions counts applied status transitions
	BridgeStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "status_transitions_total",
			Help:      "Number of applied bridge status transitions",
		},
		[]string{"from", "to"},
	)

	// BridgeIllegalTransitions counts rejected transitions; any increase indicates a caller bug
	BridgeIllegalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "illegal_transitions_total",
			Help:      "Number of rejected bridge status transitions",
		},
		[]string{"from", "to"},
	)

	// BridgeSignatures counts validator attestations by outcome
	BridgeSignatures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "validator_signatures_total",
			Help:      "Validator signatures received by outcome",
		},
		[]string{"result"},
	)

	// BridgeAdapterErrors counts chain adapter failures
	BridgeAdapterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "adapter_errors_total",
			Help:      "Chain adapter errors by chain and operation",
		},
		[]string{"chain", "operation"},
	)

	// BridgeTransferDuration observes time from initiation to a terminal status
	BridgeTransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridge",
			Name:      "transfer_duration_seconds",
			Help:      "Time from initiation to terminal status",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"direction", "status"},
	)

	// BridgeManualReview counts transfers flagged for manual intervention
	BridgeManualReview = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "manual_review_total",
			Help:      "Transfers flagged for manual intervention",
		},
	)

	// DatabaseConnectionsGauge tracks sql.DB pool statistics
	DatabaseConnectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "database_connections",
			Help: "Database connection pool state",
		},
		[]string{"state"},
	)
)
