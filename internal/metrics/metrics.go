// Package metrics defines Prometheus metrics for the clustering core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cluster_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cluster_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)

	// QueueDepth is set by the Dispatcher to the number of ideas in the
	// mega-batch it last dequeued; items still waiting in the queue are not
	// counted.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cluster_work_queue_depth",
			Help: "Number of ideas in the most recently dequeued work batch",
		},
	)

	// EmbeddingDuration measures latency of individual embedding RPCs (spec §4.2).
	EmbeddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluster_embedding_duration_seconds",
			Help:    "Embedding client call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EmbeddingRetries counts retry attempts made by the Embedding Client (spec §4.2/§7(a)).
	EmbeddingRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cluster_embedding_retries_total",
			Help: "Total embedding retry attempts",
		},
	)

	// BatchSize records the size of batches processed by the Centroid
	// Clustering Engine (spec §4.4).
	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluster_centroid_batch_size",
			Help:    "Size of batches processed by the centroid clustering engine",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000},
		},
	)

	// OutliersTotal counts ideas routed to mini-DBSCAN outlier handling (spec §4.4 step 4).
	OutliersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cluster_outliers_total",
			Help: "Total ideas classified as outliers by the centroid clustering engine",
		},
	)

	// LockContentionTotal counts failed lock acquisitions (spec §4.1/§4.5 step 1).
	LockContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cluster_lock_contention_total",
			Help: "Total reclustering lock acquisition attempts that found the lock already held",
		},
	)

	// ReclusterDuration measures Full Reclustering Engine run time (spec §4.5).
	ReclusterDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluster_full_recluster_duration_seconds",
			Help:    "Full reclustering engine run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// StuckIdeasTotal counts ideas reclassified stuck, by the watchdog or by
	// the Centroid Clustering Engine when an idea has no embedding.
	StuckIdeasTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cluster_stuck_ideas_total",
			Help: "Total ideas reclassified as stuck",
		},
	)

	// DeferredQueueDepth is registered but no component sets it, so it
	// stays at 0.
	DeferredQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cluster_deferred_queue_depth",
			Help: "Current total deferred-queue depth across discussions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal, WSConnections,
		QueueDepth, EmbeddingDuration, EmbeddingRetries, BatchSize,
		OutliersTotal, LockContentionTotal, ReclusterDuration,
		StuckIdeasTotal, DeferredQueueDepth,
	)
}
