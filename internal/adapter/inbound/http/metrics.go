// Package http provides the HTTP transport adapter: the SSE session
// engine, the OAuth-or-static-bearer gatekeeper, CORS, health, and metrics.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for daydreamer-memory.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveSessions     prometheus.Gauge
	SessionsEvicted    prometheus.Counter
	ToolCallsTotal     *prometheus.CounterVec
	EmbeddingCacheHits prometheus.Counter
	EmbeddingCacheMiss prometheus.Counter
	CircuitBreakerOpen prometheus.Gauge
	ObservationsTotal  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daydreamer_memory",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "daydreamer_memory",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "daydreamer_memory",
				Name:      "active_sse_sessions",
				Help:      "Number of active SSE sessions",
			},
		),
		SessionsEvicted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "daydreamer_memory",
				Name:      "sessions_evicted_total",
				Help:      "Total SSE sessions evicted due to the concurrency bound",
			},
		),
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daydreamer_memory",
				Name:      "tool_calls_total",
				Help:      "Total tools/call invocations",
			},
			[]string{"tool", "status"},
		),
		EmbeddingCacheHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "daydreamer_memory",
				Name:      "embedding_cache_hits_total",
				Help:      "Embedding LRU cache hits",
			},
		),
		EmbeddingCacheMiss: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "daydreamer_memory",
				Name:      "embedding_cache_misses_total",
				Help:      "Embedding LRU cache misses",
			},
		),
		CircuitBreakerOpen: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "daydreamer_memory",
				Name:      "embedding_circuit_breaker_open",
				Help:      "1 when the embedding memory circuit breaker is open, else 0",
			},
		),
		ObservationsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "daydreamer_memory",
				Name:      "observations_created_total",
				Help:      "Total Observation nodes created by the V6 write pipeline",
			},
		),
	}
}
