package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry through promauto and
// served by the HTTP server on /metrics.

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektorgraph_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Nodes and Edges track live counts per graph instance.
	Nodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektorgraph_nodes",
			Help: "Number of live nodes",
		},
		[]string{"graph"},
	)

	Edges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektorgraph_edges",
			Help: "Number of live hyperedges",
		},
		[]string{"graph"},
	)

	// Mutations counts coordinator operations by outcome (ok, error, rolled_back, partial).
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_mutations_total",
			Help: "Graph mutations by operation and outcome",
		},
		[]string{"graph", "op", "outcome"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektorgraph_query_related_duration_seconds",
			Help:    "Latency of query_related including the similarity search",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"graph"},
	)

	// PendingRepairs is the number of nodes whose index removal still has to be retried.
	PendingRepairs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektorgraph_pending_index_repairs",
			Help: "Nodes removed from the structure whose index removal failed",
		},
		[]string{"graph"},
	)

	Snapshots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_snapshots_total",
			Help: "Snapshots written by the durable engine",
		},
		[]string{"graph", "outcome"},
	)

	EmbeddingCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kektorgraph_embedding_cache_hits_total",
		Help: "Embedding requests served from the LRU cache",
	})

	EmbeddingCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kektorgraph_embedding_cache_misses_total",
		Help: "Embedding requests forwarded to the embedding provider",
	})
)
