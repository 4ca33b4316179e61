package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("cosine")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	m, err = ParseMetric("l2")
	require.NoError(t, err)
	assert.Equal(t, MetricL2, m)

	_, err = ParseMetric("dot")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCosineSimilarityClamped(t *testing.T) {
	// Cosine distance ranges over [0, 2]; similarity must stay in [0, 1].
	assert.Equal(t, 1.0, MetricCosine.Similarity(0))
	assert.Equal(t, 0.5, MetricCosine.Similarity(0.5))
	assert.Equal(t, 0.0, MetricCosine.Similarity(2))
	assert.Equal(t, 1.0, MetricCosine.Similarity(-0.001))
}

func TestL2SimilarityMonotonic(t *testing.T) {
	assert.Equal(t, 1.0, MetricL2.Similarity(0))
	prev := 1.0
	for _, d := range []float32{0.1, 1, 10, 100} {
		s := MetricL2.Similarity(d)
		assert.Less(t, s, prev)
		assert.Greater(t, s, 0.0)
		prev = s
	}
}
