// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

// Package metrics holds the Prometheus collectors exported on /metrics.
//
// Collectors are registered on the default registry through promauto.
// Callers should prefer the Record* helpers over touching collectors
// directly so label sets stay consistent.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Warehouse queries

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubo_db_query_duration_seconds",
			Help:    "Duration of warehouse queries in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300},
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubo_db_query_errors_total",
			Help: "Total number of failed warehouse queries by category",
		},
		[]string{"operation", "error_type"}, // timeout, not_configured, query_failed, rejected
	)

	// Connection pool

	PoolInitializations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubo_db_pool_initializations_total",
			Help: "Total number of pool initialization attempts",
		},
		[]string{"result"}, // success, failure
	)

	PoolGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cubo_db_pool_generation",
			Help: "Generation number of the active pool (0 when unconfigured)",
		},
	)

	PoolConfigured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cubo_db_pool_configured",
			Help: "1 when a pool is active, 0 otherwise",
		},
	)

	PoolInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cubo_db_pool_inflight_queries",
			Help: "Queries currently executing across active and draining pools",
		},
	)

	PoolDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cubo_db_pool_drained_total",
			Help: "Superseded pools that finished draining and were closed",
		},
	)

	// Circuit breaker

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cubo_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubo_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Result cache

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubo_cache_hits_total",
			Help: "Cache lookups answered from a live entry",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubo_cache_misses_total",
			Help: "Cache lookups that found no live entry",
		},
		[]string{"cache"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubo_cache_evictions_total",
			Help: "Entries removed because they expired",
		},
		[]string{"cache"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cubo_cache_entries",
			Help: "Current number of cache entries",
		},
		[]string{"cache"},
	)

	// Pivot engine

	PivotQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubo_pivot_queries_total",
			Help: "Pivot executions by outcome",
		},
		[]string{"outcome"}, // ok, invalid, failed
	)

	PivotRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cubo_pivot_result_rows",
			Help:    "Number of rows in pivot results",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 20000},
		},
	)

	// HTTP API

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubo_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubo_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cubo_api_active_requests",
			Help: "Number of requests currently being served",
		},
	)
)

// RecordDBQuery observes a query duration and, when errorType is not
// empty, counts the failure.
func RecordDBQuery(operation string, duration time.Duration, errorType string) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if errorType != "" {
		DBQueryErrors.WithLabelValues(operation, truncateLabel(errorType)).Inc()
	}
}

// RecordPoolInit counts an initialization attempt and updates the pool gauges.
func RecordPoolInit(success bool, generation uint64) {
	if success {
		PoolInitializations.WithLabelValues("success").Inc()
		PoolGeneration.Set(float64(generation))
		PoolConfigured.Set(1)
		return
	}
	PoolInitializations.WithLabelValues("failure").Inc()
	PoolGeneration.Set(0)
	PoolConfigured.Set(0)
}

// TrackInflightQuery adjusts the in-flight query gauge.
func TrackInflightQuery(inc bool) {
	if inc {
		PoolInflight.Inc()
	} else {
		PoolInflight.Dec()
	}
}

// RecordCircuitBreakerTransition records a breaker state change.
func RecordCircuitBreakerTransition(name, from, to string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordCacheLookup counts one cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
	} else {
		CacheMisses.WithLabelValues(cache).Inc()
	}
}

// RecordCacheSweep records the outcome of a reclamation pass.
func RecordCacheSweep(cache string, evicted, size int) {
	CacheEvictions.WithLabelValues(cache).Add(float64(evicted))
	CacheEntries.WithLabelValues(cache).Set(float64(size))
}

// RecordPivotQuery counts a pivot execution. rows is ignored unless
// outcome is "ok".
func RecordPivotQuery(outcome string, rows int) {
	PivotQueries.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		PivotRows.Observe(float64(rows))
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// truncateLabel keeps label cardinality bounded.
func truncateLabel(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
