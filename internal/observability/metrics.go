package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "marketsync_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"path", "method", "status"},
	)

	// ActiveConnections tracks active HTTP connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_active_connections",
			Help: "Number of active connections",
		},
	)

	// PagesFetched counts pages fetched from the upstream API
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_pages_fetched_total",
			Help: "Number of upstream pages fetched",
		},
		[]string{"kind", "status"},
	)

	// RecordsUpserted counts upsert outcomes by kind
	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_records_upserted_total",
			Help: "Number of records processed by the upsert engine",
		},
		[]string{"kind", "outcome"},
	)

	// BatchesCommitted counts write batches committed to the store
	BatchesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_batches_committed_total",
			Help: "Number of write batches committed to the store",
		},
		[]string{"kind"},
	)

	// JobTransitions counts sync job status transitions
	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_job_transitions_total",
			Help: "Number of sync job status transitions",
		},
		[]string{"kind", "status"},
	)

	// ChunkDuration tracks how long one chunk invocation takes
	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "marketsync_chunk_duration_seconds",
			Help: "Duration of one resumable chunk invocation",
		},
		[]string{"kind"},
	)
)
