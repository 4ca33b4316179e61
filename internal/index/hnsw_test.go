package index

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndSearch(t *testing.T) {
	h := New(16, 200, CosineDistance)

	require.NoError(t, h.Insert("a", []float32{1, 0, 0}))
	require.NoError(t, h.Insert("b", []float32{0, 1, 0}))
	require.NoError(t, h.Insert("c", []float32{0.9, 0.1, 0}))

	results := h.Search([]float32{1, 0, 0}, 2, 10)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestInsertDuplicate(t *testing.T) {
	h := New(16, 200, CosineDistance)
	require.NoError(t, h.Insert("a", []float32{1, 0}))
	assert.Error(t, h.Insert("a", []float32{0, 1}))
}

func TestSearchEmpty(t *testing.T) {
	h := New(16, 200, CosineDistance)
	assert.Nil(t, h.Search([]float32{1, 0}, 5, 10))
}

func TestDelete(t *testing.T) {
	h := New(16, 200, CosineDistance)
	require.NoError(t, h.Insert("a", []float32{1, 0}))
	require.NoError(t, h.Insert("b", []float32{0.9, 0.1}))

	assert.True(t, h.Delete("a"))
	assert.False(t, h.Delete("a"), "second delete is a no-op")
	assert.False(t, h.Delete("missing"))

	results := h.Search([]float32{1, 0}, 5, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, 1, h.Len())
	assert.InDelta(t, 0.5, h.DeletedFraction(), 1e-9)
}

func TestDeleteEntryPoint(t *testing.T) {
	h := New(16, 200, CosineDistance)
	require.NoError(t, h.Insert("a", []float32{1, 0}))
	require.NoError(t, h.Insert("b", []float32{0, 1}))

	// Delete until only one node is left; search must still find it.
	h.Delete("a")
	results := h.Search([]float32{1, 0}, 5, 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "b", results[0].ID)
}

func TestSearchFiltered(t *testing.T) {
	h := New(16, 200, CosineDistance)
	for i := 0; i < 50; i++ {
		vec := []float32{float32(i), float32(50 - i), 1}
		require.NoError(t, h.Insert(fmt.Sprintf("n%d", i), vec))
	}

	allowed := map[string]bool{"n10": true, "n11": true, "n12": true}
	results := h.SearchFiltered([]float32{10, 40, 1}, 3, 200, func(id string) bool {
		return allowed[id]
	})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, allowed[r.ID], "filtered search returned %s", r.ID)
	}
}

func TestSearchRecall(t *testing.T) {
	h := New(16, 200, L2Distance)
	rng := rand.New(rand.NewSource(42))

	const dim = 16
	const n = 500
	vectors := make(map[string][]float32, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for d := range vec {
			vec[d] = rng.Float32()
		}
		id := fmt.Sprintf("v%d", i)
		vectors[id] = vec
		require.NoError(t, h.Insert(id, vec))
	}

	// Exact nearest neighbor by brute force, compared against HNSW top-10.
	hits := 0
	const queries = 20
	for q := 0; q < queries; q++ {
		query := make([]float32, dim)
		for d := range query {
			query[d] = rng.Float32()
		}
		bestID := ""
		bestDist := float32(math32Max)
		for id, vec := range vectors {
			if d := L2Distance(query, vec); d < bestDist {
				bestDist = d
				bestID = id
			}
		}
		for _, r := range h.Search(query, 10, 100) {
			if r.ID == bestID {
				hits++
				break
			}
		}
	}
	assert.GreaterOrEqual(t, hits, queries*8/10, "recall@10 below 80%%")
}

const math32Max = 3.4e38

func TestDistanceFunctions(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	assert.InDelta(t, 1.4142, L2Distance(a, b), 1e-3)
	assert.InDelta(t, 0, L2Distance(a, a), 1e-6)
	assert.InDelta(t, 1, CosineDistance(a, b), 1e-6)
	assert.InDelta(t, 0, CosineDistance(a, a), 1e-6)
	assert.InDelta(t, 1, CosineDistance(a, []float32{0, 0}), 1e-6, "zero vector is maximally distant")
}
