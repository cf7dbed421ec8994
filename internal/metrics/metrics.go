// Package metrics holds the Prometheus instrumentation for hyrag.
// Domain metrics are registered explicitly from main via Register so
// that tests can use the vectors unregistered; the HTTP middleware
// registers its own request metrics on import.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EmbeddingRequestsTotal counts embedding provider calls by outcome.
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hyrag",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding batch requests",
		},
		[]string{"provider", "model", "status"},
	)

	// EmbeddingRequestDuration observes embedding batch latency.
	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hyrag",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding batch request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	// EmbeddingCacheTotal counts embedding cache hits and misses.
	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hyrag",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	// IngestTasksTotal counts finished ingestion tasks by terminal status.
	IngestTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hyrag",
			Name:      "ingest_tasks_total",
			Help:      "Total number of finished ingestion tasks",
		},
		[]string{"status"}, // "completed" / "error" / "skipped"
	)

	// IngestTaskDuration observes end-to-end task processing time.
	IngestTaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "hyrag",
			Name:      "ingest_task_duration_seconds",
			Help:      "Ingestion task duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// RetrievalQueriesTotal counts retrieval queries by strategy and outcome.
	RetrievalQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hyrag",
			Name:      "retrieval_queries_total",
			Help:      "Total number of retrieval queries",
		},
		[]string{"strategy", "status"},
	)

	// RetrievalQueryDuration observes retrieval query latency by strategy.
	RetrievalQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hyrag",
			Name:      "retrieval_query_duration_seconds",
			Help:      "Retrieval query duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"strategy"},
	)

	// FusionCandidatesTotal counts per-path candidates entering fusion.
	FusionCandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hyrag",
			Name:      "fusion_candidates_total",
			Help:      "Candidates contributed to fusion by each retrieval path",
		},
		[]string{"path"}, // "local" / "remote"
	)

	// LocalIndexSize tracks the local vector index entry count.
	LocalIndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hyrag",
			Name:      "local_index_size",
			Help:      "Number of vectors in the local index",
		},
	)
)

var registered bool

// Register registers all hyrag metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingCacheTotal,
		IngestTasksTotal,
		IngestTaskDuration,
		RetrievalQueriesTotal,
		RetrievalQueryDuration,
		FusionCandidatesTotal,
		LocalIndexSize,
	)
	registered = true
}
