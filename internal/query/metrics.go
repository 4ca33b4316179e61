package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts queries by outcome.
	// Labels: result (success, embedding_error, search_error)
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkd",
			Subsystem: "query",
			Name:      "queries_total",
			Help:      "Total number of similarity queries",
		},
		[]string{"result"},
	)

	// QueryDuration tracks end-to-end query latency including embedding.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chunkd",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of successful queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SearchRetriesTotal counts transient-failure retries on the read path.
	SearchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkd",
			Subsystem: "query",
			Name:      "search_retries_total",
			Help:      "Total number of search retries after transient storage failures",
		},
	)
)
