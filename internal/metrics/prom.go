// Package metrics exposes the bridge's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "mcpbridge_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "bridge"},
		},
		[]string{"date", "sha", "version"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpbridge_sessions_active",
			Help: "Number of sessions currently open",
		},
	)

	sessionsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpbridge_sessions_opened_total",
			Help: "Total sessions ever opened",
		},
	)

	sessionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpbridge_sessions_closed_total",
			Help: "Sessions closed, by reason",
		},
		[]string{"reason"},
	)

	queueDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpbridge_queue_dropped_total",
			Help: "Outbound messages dropped from a session queue",
		},
		[]string{"session_id"},
	)

	childRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpbridge_child_restarts_total",
			Help: "Number of times the supervised child process was restarted",
		},
	)

	childHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpbridge_child_health_state",
			Help: "Child health state: 0=starting 1=ready 2=degraded 3=dead 4=terminal",
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpbridge_requests_total",
			Help: "JSON-RPC requests forwarded to the child, by outcome",
		},
		[]string{"outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpbridge_request_duration_seconds",
			Help:    "Round-trip duration of a forwarded request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	filterActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpbridge_filter_actions_total",
			Help: "Filter chain outcomes, by filter name and action",
		},
		[]string{"filter", "action"},
	)
)

// Register registers all bridge metrics with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		buildInfo,
		sessionsActive,
		sessionsOpenedTotal,
		sessionsClosedTotal,
		queueDroppedTotal,
		childRestartsTotal,
		childHealth,
		requestsTotal,
		requestDuration,
		filterActionsTotal,
	)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// SessionOpened records a newly opened session.
func SessionOpened() {
	sessionsOpenedTotal.Inc()
	sessionsActive.Inc()
}

// SessionClosed records a session closing for the given reason
// (e.g. "client_close", "slow_consumer", "idle_timeout").
func SessionClosed(reason string) {
	sessionsClosedTotal.WithLabelValues(reason).Inc()
	sessionsActive.Dec()
}

// QueueDropped records an outbound message dropped from a session's queue.
func QueueDropped(sessionID string) {
	queueDroppedTotal.WithLabelValues(sessionID).Inc()
}

// ChildRestarted records a child-process restart.
func ChildRestarted() {
	childRestartsTotal.Inc()
}

// SetChildHealth publishes the child's current health state as a small int.
func SetChildHealth(state int) {
	childHealth.Set(float64(state))
}

// RecordRequest records the outcome of a forwarded request ("ok", "timeout",
// "blocked", "upstream_unavailable", "upstream_restarted").
func RecordRequest(outcome string) {
	requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequestDuration records round-trip latency for method.
func ObserveRequestDuration(method string, d time.Duration) {
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordFilterAction records a filter chain outcome ("pass", "transform",
// "drop", "block").
func RecordFilterAction(filter, action string) {
	filterActionsTotal.WithLabelValues(filter, action).Inc()
}
