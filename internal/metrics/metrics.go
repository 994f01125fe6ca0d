// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package metrics holds the Prometheus collectors for ScanGuard. All
// collectors are registered on the default registry via promauto and exposed
// on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Quota Metrics
	ScanChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_scan_checks_total",
			Help: "Quota checks by identity kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: employee, customer; outcome: accepted or a reason code
	)

	CustomerWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_customer_warnings_total",
			Help: "Customer near-limit warnings by dimension",
		},
		[]string{"dimension"}, // scans, points
	)

	// Ledger Metrics
	LedgerRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_ledger_records_total",
			Help: "Scan events appended to the ledger",
		},
		[]string{"kind"},
	)

	LedgerTrackedIdentities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanguard_ledger_tracked_identities",
			Help: "Identities currently held in the ledger",
		},
		[]string{"kind"},
	)

	LedgerSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanguard_ledger_sweep_duration_seconds",
			Help:    "Duration of a retention sweep",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	LedgerPrunedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_ledger_pruned_events_total",
			Help: "Events evicted by the retention sweeper",
		},
		[]string{"window"}, // hourly, daily
	)

	LedgerDeletedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_ledger_deleted_records_total",
			Help: "Empty identity records deleted by the sweeper",
		},
		[]string{"kind"},
	)

	// Detection Metrics
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_detections_total",
			Help: "Abuse signatures detected by type and severity",
		},
		[]string{"abuse_type", "severity"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanguard_detection_duration_seconds",
			Help:    "Time spent evaluating all detectors for one scan",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	// Alerting Metrics
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_alerts_raised_total",
			Help: "Alerts raised by type",
		},
		[]string{"abuse_type"},
	)

	AlertPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanguard_alert_persist_failures_total",
			Help: "Alerts dropped because the alert store write failed",
		},
	)

	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanguard_escalations_total",
			Help: "Escalation alerts raised",
		},
	)

	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_notification_deliveries_total",
			Help: "Notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"}, // outcome: success, failure, timeout
	)

	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanguard_outbox_depth",
			Help: "Notification tasks waiting in the outbox",
		},
	)

	OutboxDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_outbox_dropped_total",
			Help: "Notification tasks dropped because the outbox was full or closed",
		},
		[]string{"channel"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanguard_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanguard_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanguard_websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)
)

// RecordScanCheck counts one quota decision.
func RecordScanCheck(kind, outcome string) {
	ScanChecks.WithLabelValues(kind, outcome).Inc()
}

// RecordDetection counts one detected signature.
func RecordDetection(abuseType, severity string) {
	DetectionsTotal.WithLabelValues(abuseType, severity).Inc()
}

// RecordDelivery counts one notification attempt.
func RecordDelivery(channel string, err error, timedOut bool) {
	switch {
	case timedOut:
		NotificationDeliveries.WithLabelValues(channel, "timeout").Inc()
	case err != nil:
		NotificationDeliveries.WithLabelValues(channel, "failure").Inc()
	default:
		NotificationDeliveries.WithLabelValues(channel, "success").Inc()
	}
}

// RecordSweep records one sweep pass.
func RecordSweep(duration time.Duration, hourlyPruned, dailyPruned int) {
	LedgerSweepDuration.Observe(duration.Seconds())
	LedgerPrunedEvents.WithLabelValues("hourly").Add(float64(hourlyPruned))
	LedgerPrunedEvents.WithLabelValues("daily").Add(float64(dailyPruned))
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
