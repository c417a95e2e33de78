// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package metrics provides Prometheus instrumentation for Zapfeed:
// API latency and throughput, feed generation timing, cache efficiency,
// candidate fetcher errors, background task outcomes, and document store
// circuit breaker state.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Feed pipeline metrics
	FeedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Total number of feed page requests by response source",
		},
		[]string{"content_type", "source"},
	)

	FeedGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_generation_duration_seconds",
			Help:    "Duration of full feed pool generation by user tier",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"tier"},
	)

	FeedCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_hits_total",
			Help: "Total number of feed cache hits",
		},
		[]string{"content_type"},
	)

	FeedCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_misses_total",
			Help: "Total number of feed cache misses (absent or expired)",
		},
		[]string{"content_type"},
	)

	CandidateFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidate_fetch_errors_total",
			Help: "Total number of candidate fetcher errors swallowed as empty results",
		},
		[]string{"source"},
	)

	CandidatesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidates_fetched_total",
			Help: "Total number of candidates returned by each fetcher",
		},
		[]string{"source"},
	)

	// Background task metrics
	TasksPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_tasks_published_total",
			Help: "Total number of fire-and-forget tasks published",
		},
		[]string{"task"},
	)

	TaskFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_task_failures_total",
			Help: "Total number of background task handler failures (logged, never surfaced)",
		},
		[]string{"task"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "background_task_duration_seconds",
			Help:    "Background task handler duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"task"},
	)

	// Curated batch metrics
	CuratedRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curated_runs_total",
			Help: "Total number of daily curated list builds",
		},
		[]string{"content_type", "result"},
	)

	CuratedListSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curated_list_size",
			Help: "Number of items in the most recently built curated list",
		},
		[]string{"content_type"},
	)

	// Document store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operation_errors_total",
			Help: "Total number of document store operation errors",
		},
		[]string{"operation", "collection"},
	)

	// CircuitBreakerState tracks breaker state: 0=closed, 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_circuit_breaker_state",
			Help: "Document store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordAPIRequest records an API request with its outcome.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordStoreOperation records a document store operation.
func RecordStoreOperation(operation, collection string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation, collection).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation, collection).Inc()
	}
}
