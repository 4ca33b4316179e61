package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestsTotal counts ingest attempts.
	// Labels: result (success, invalid, error)
	IngestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkd",
			Subsystem: "ingest",
			Name:      "ingests_total",
			Help:      "Total number of chunk batch ingests",
		},
		[]string{"result"},
	)

	// IngestDuration tracks successful ingest latency.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chunkd",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of successful ingests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ChunksIngested counts chunks written by successful ingests.
	ChunksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkd",
			Subsystem: "ingest",
			Name:      "chunks_ingested_total",
			Help:      "Total number of chunks written",
		},
	)
)
