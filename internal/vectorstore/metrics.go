package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksStored tracks the number of live chunks in the store.
	ChunksStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chunkd",
			Subsystem: "vectorstore",
			Name:      "chunks_stored",
			Help:      "Number of chunks currently stored",
		},
	)

	// SearchDuration tracks search latency by strategy.
	// Labels: strategy (exact, hnsw)
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chunkd",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// SearchesTotal counts searches by strategy and result.
	// Labels: strategy (exact, hnsw), result (success, error)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkd",
			Subsystem: "vectorstore",
			Name:      "searches_total",
			Help:      "Total number of similarity searches",
		},
		[]string{"strategy", "result"},
	)

	// PutBatchesTotal counts chunk batch writes.
	// Labels: result (success, error)
	PutBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkd",
			Subsystem: "vectorstore",
			Name:      "put_batches_total",
			Help:      "Total number of chunk batch writes",
		},
		[]string{"result"},
	)

	// IndexRebuildsTotal counts full index rebuilds (startup and compaction).
	IndexRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkd",
			Subsystem: "vectorstore",
			Name:      "index_rebuilds_total",
			Help:      "Total number of full index rebuilds",
		},
	)

	// IndexDeletedFraction reports the soft-deleted fraction of the index.
	IndexDeletedFraction = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chunkd",
			Subsystem: "vectorstore",
			Name:      "index_deleted_fraction",
			Help:      "Fraction of index nodes that are soft-deleted",
		},
	)
)
