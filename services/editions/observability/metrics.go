// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the editions
// service.
//
// # Description
//
// Metrics cover edition operations (count, latency, error kind), storage
// calls (latency, attempts), the storage circuit breaker, the scope cache
// and realtime subscribers. They are exposed at /metrics.
//
// # Thread Safety
//
// All metrics are safe for concurrent use.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "sqe"
	editionsSubsystem = "editions"
)

// =============================================================================
// Metrics Definition
// =============================================================================

// Metrics contains all editions service metrics.
//
// # Description
//
// Register once per registry. Use NewMetrics with a private registry in
// tests and InitMetrics in the server.
type Metrics struct {
	// OperationsTotal counts service operations.
	// Labels: operation (create_sign, add_link, ...), outcome (ok, error kind)
	OperationsTotal *prometheus.CounterVec

	// OperationDurationSeconds tracks service operation latency.
	// Labels: operation
	OperationDurationSeconds *prometheus.HistogramVec

	// StorageDurationSeconds tracks store call latency including retries.
	// Labels: backend, op, status
	StorageDurationSeconds *prometheus.HistogramVec

	// StorageAttemptsTotal counts store call attempts.
	// Labels: backend, op
	StorageAttemptsTotal *prometheus.CounterVec

	// BreakerState reports the storage circuit breaker state
	// (0 closed, 1 open, 2 half-open).
	// Labels: backend
	BreakerState *prometheus.GaugeVec

	// CacheLookupsTotal counts scope cache lookups.
	// Labels: result (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// RealtimeSubscribers is the number of connected websocket clients.
	RealtimeSubscribers prometheus.Gauge

	// RealtimeEventsTotal counts published events.
	// Labels: kind
	RealtimeEventsTotal *prometheus.CounterVec
}

// DefaultMetrics is the global instance set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics registers the metrics with the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: editionsSubsystem,
				Name:      "operations_total",
				Help:      "Total edition operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		OperationDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: editionsSubsystem,
				Name:      "operation_duration_seconds",
				Help:      "Edition operation latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		StorageDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "duration_seconds",
				Help:      "Store call latency in seconds, retries included",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"backend", "op", "status"},
		),

		StorageAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "attempts_total",
				Help:      "Total store call attempts",
			},
			[]string{"backend", "op"},
		),

		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "circuit_state",
				Help:      "Storage circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"backend"},
		),

		CacheLookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Scope cache lookups by result",
			},
			[]string{"result"},
		),

		RealtimeSubscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "realtime",
				Name:      "subscribers",
				Help:      "Number of connected realtime subscribers",
			},
		),

		RealtimeEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "realtime",
				Name:      "events_total",
				Help:      "Total realtime events published by kind",
			},
			[]string{"kind"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordOperation records a finished service operation. outcome is "ok"
// or an error kind such as "not_found".
func (m *Metrics) RecordOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordStorage records a store call. It matches storage.ObserveFunc once
// bound to a backend name.
func (m *Metrics) RecordStorage(backend, op string, attempts int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageDurationSeconds.WithLabelValues(backend, op, status).Observe(elapsed.Seconds())
	if attempts > 0 {
		m.StorageAttemptsTotal.WithLabelValues(backend, op).Add(float64(attempts))
	}
}

// SetBreakerState records the breaker state as its numeric value.
func (m *Metrics) SetBreakerState(backend string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(backend).Set(float64(state))
}

// RecordCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// SubscriberJoined increments the subscriber gauge.
func (m *Metrics) SubscriberJoined() {
	if m == nil {
		return
	}
	m.RealtimeSubscribers.Inc()
}

// SubscriberLeft decrements the subscriber gauge.
func (m *Metrics) SubscriberLeft() {
	if m == nil {
		return
	}
	m.RealtimeSubscribers.Dec()
}

// RecordEvent counts a published realtime event.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.RealtimeEventsTotal.WithLabelValues(kind).Inc()
}
