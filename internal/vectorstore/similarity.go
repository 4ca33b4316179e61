package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/chunkd/internal/index"
)

// Metric selects the distance function used for search. It is fixed per
// deployment; mixing metrics across a stored corpus is not supported.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricL2:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidArgument, s)
	}
}

// DistanceFunc returns the index distance function for the metric.
func (m Metric) DistanceFunc() index.DistanceFunc {
	if m == MetricL2 {
		return index.L2Distance
	}
	return index.CosineDistance
}

// Similarity maps a raw distance to a score in [0, 1], monotonically
// decreasing in distance. Cosine distance d maps to clamp(1-d, 0, 1);
// L2 distance maps to 1/(1+d).
func (m Metric) Similarity(distance float32) float64 {
	switch m {
	case MetricL2:
		return 1.0 / (1.0 + float64(distance))
	default:
		sim := 1.0 - float64(distance)
		if sim < 0 {
			return 0
		}
		if sim > 1 {
			return 1
		}
		return sim
	}
}
