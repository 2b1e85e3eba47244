// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal tracks messages published, by sender.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages published",
		},
		[]string{"tenant_id", "sender"},
	)

	// OptimisticPending tracks optimistic messages awaiting backend
	// confirmation.
	OptimisticPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconcile_optimistic_pending",
			Help: "Optimistic messages awaiting backend confirmation",
		},
	)

	// OptimisticMatches tracks optimistic-to-backend matches, by method
	// (client_id or fingerprint).
	OptimisticMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_optimistic_matches_total",
			Help: "Optimistic messages matched to backend messages",
		},
		[]string{"method"},
	)

	// DuplicatesSuppressed tracks messages dropped by display dedup.
	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_duplicates_suppressed_total",
			Help: "Messages suppressed by display-time deduplication",
		},
	)

	// EditsRestored tracks display overrides applied from persisted edit
	// records.
	EditsRestored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_edits_restored_total",
			Help: "Messages whose content was overridden from an edit record",
		},
	)

	// SessionSwitches tracks session transitions.
	SessionSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_switches_total",
			Help: "Session transitions",
		},
		[]string{"tenant_id"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// EditRecordsPruned tracks edit records removed by the retention sweep.
	EditRecordsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edit_records_pruned_total",
			Help: "Edit records removed by the retention sweep",
		},
	)

	// LLMTokensTotal tracks tokens processed by the reply generator.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordMatch records an optimistic match by method.
func RecordMatch(method string) {
	OptimisticMatches.WithLabelValues(method).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// RecordLLMUsage records token usage for a generated reply.
func RecordLLMUsage(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
