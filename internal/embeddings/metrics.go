package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// generationDuration tracks embedding latency by model and operation.
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chunkd",
			Subsystem: "embeddings",
			Name:      "generation_duration_seconds",
			Help:      "Duration of embedding generation in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"model", "operation"},
	)

	// generationsTotal counts embedding calls by model, operation and result.
	generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkd",
			Subsystem: "embeddings",
			Name:      "generations_total",
			Help:      "Total number of embedding generations",
		},
		[]string{"model", "operation", "result"},
	)
)

func recordGeneration(model, operation string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	generationDuration.WithLabelValues(model, operation).Observe(elapsed.Seconds())
	generationsTotal.WithLabelValues(model, operation, result).Inc()
}
