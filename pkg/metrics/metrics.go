// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   prometheus.Counter

	MutationsTotal      *prometheus.CounterVec
	CommitsTotal        *prometheus.CounterVec
	CommitDuration      prometheus.Histogram
	ReloadsTotal        *prometheus.CounterVec
	PendingBatches      prometheus.Gauge
	LockRecoveriesTotal prometheus.Counter
	PublisherState      prometheus.Gauge
	SnapshotGeneration  prometheus.Gauge
	SnapshotDocCount    prometheus.Gauge
	SnapshotsOpen       prometheus.Gauge

	StreamMessagesTotal *prometheus.CounterVec
	EventsDroppedTotal  prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the global /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (ok, zero_result, syntax_error, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of hits returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_cache_hits_total",
				Help: "Total query cache hits by tier (local, redis).",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_misses_total",
				Help: "Total query cache misses.",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_mutations_total",
				Help: "Buffered index mutations by operation and status.",
			},
			[]string{"op", "status"},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_commits_total",
				Help: "Index commits by status.",
			},
			[]string{"status"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_commit_duration_seconds",
				Help:    "Time spent applying buffered mutations to the index.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		ReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_reloads_total",
				Help: "Snapshot reloads by status.",
			},
			[]string{"status"},
		),
		PendingBatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_pending_batches",
				Help: "Detached mutation batches waiting to be committed.",
			},
		),
		LockRecoveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_writer_lock_recoveries_total",
				Help: "Times the writer lock was recovered after a holder panicked.",
			},
		),
		PublisherState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_publisher_state",
				Help: "Publisher state (0=idle, 1=committing, 2=reloading, 3=swapping).",
			},
		),
		SnapshotGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_generation",
				Help: "Generation of the currently published snapshot.",
			},
		),
		SnapshotDocCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_document_count",
				Help: "Documents visible in the currently published snapshot.",
			},
		),
		SnapshotsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshots_open",
				Help: "Snapshots still held open by the publisher or in-flight searches.",
			},
		),
		StreamMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_messages_total",
				Help: "Mutation stream messages by operation and status.",
			},
			[]string{"op", "status"},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "events_dropped_total",
				Help: "Snapshot events dropped because the publish buffer was full.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.MutationsTotal,
		m.CommitsTotal,
		m.CommitDuration,
		m.ReloadsTotal,
		m.PendingBatches,
		m.LockRecoveriesTotal,
		m.PublisherState,
		m.SnapshotGeneration,
		m.SnapshotDocCount,
		m.SnapshotsOpen,
		m.StreamMessagesTotal,
		m.EventsDroppedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewNop returns collectors registered on a private registry. Useful for
// tests and tools that do not expose metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
