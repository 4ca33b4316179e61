// Package index provides an in-memory HNSW graph for approximate
// nearest-neighbor search over chunk embeddings.
//
// The index is a derived artifact: it is rebuilt from the canonical chunk
// table at startup and compacted in the background, so it is never persisted.
// Deletes are soft; Len and DeletedFraction let the owner decide when a
// rebuild is worthwhile.
package index

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// DistanceFunc computes the distance between two equal-length vectors.
// Smaller is closer.
type DistanceFunc func(a, b []float32) float32

// Result is a single nearest-neighbor hit.
type Result struct {
	ID       string
	Distance float32
}

type node struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]string // neighbor IDs per level
	deleted   bool
}

// HNSW implements a Hierarchical Navigable Small World graph.
type HNSW struct {
	m              int // max bi-directional links per node above level 0
	maxM0          int // max links at level 0
	efConstruction int

	mu         sync.RWMutex
	nodes      map[string]*node
	entryPoint string
	deleted    int
	dist       DistanceFunc
	rng        *rand.Rand
}

// New creates an HNSW index with the given parameters.
// m controls graph connectivity, efConstruction the build-time search width.
func New(m, efConstruction int, dist DistanceFunc) *HNSW {
	if m <= 0 {
		m = 16
	}
	if efConstruction < m {
		efConstruction = m * 4
	}
	return &HNSW{
		m:              m,
		maxM0:          m * 2,
		efConstruction: efConstruction,
		nodes:          make(map[string]*node),
		dist:           dist,
		// Fixed seed: level assignment is the only random input, and a fixed
		// seed makes rebuilds reproducible for a given insertion order.
		rng: rand.New(rand.NewSource(1)),
	}
}

// Insert adds a vector to the index.
func (h *HNSW) Insert(id string, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		return fmt.Errorf("node %s already exists", id)
	}

	level := h.randomLevel()
	n := &node{
		id:        id,
		vector:    vector,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	h.nodes[id] = n

	if h.entryPoint == "" {
		h.entryPoint = id
		return nil
	}

	// Greedy descent from the entry point to the insertion level.
	curr := []string{h.entryPoint}
	entry := h.nodes[h.entryPoint]
	for lc := entry.level; lc > level; lc-- {
		curr = h.searchLayer(vector, curr, 1, lc, nil)
	}

	// Connect at each level from the insertion level down to 0.
	for lc := min(level, entry.level); lc >= 0; lc-- {
		maxConn := h.m
		if lc == 0 {
			maxConn = h.maxM0
		}

		candidates := h.searchLayer(vector, curr, h.efConstruction, lc, nil)
		neighbors := h.selectClosest(vector, candidates, maxConn)
		n.neighbors[lc] = neighbors

		for _, nb := range neighbors {
			h.connect(nb, id, lc)
			nbNode := h.nodes[nb]
			if lc < len(nbNode.neighbors) && len(nbNode.neighbors[lc]) > maxConn {
				nbNode.neighbors[lc] = h.selectClosest(nbNode.vector, nbNode.neighbors[lc], maxConn)
			}
		}
		curr = neighbors
	}

	if level > h.nodes[h.entryPoint].level {
		h.entryPoint = id
	}
	return nil
}

// Search returns up to k nearest neighbors of query, closest first.
// ef widens the layer-0 search; it is clamped to at least k.
func (h *HNSW) Search(query []float32, k, ef int) []Result {
	return h.SearchFiltered(query, k, ef, nil)
}

// SearchFiltered returns up to k nearest neighbors for which allowed returns
// true. A nil allowed accepts every live node. The filter is applied to the
// result set, not the traversal, so the graph stays navigable even when the
// allow-set is sparse; callers pass an ef proportional to the expected
// selectivity.
func (h *HNSW) SearchFiltered(query []float32, k, ef int, allowed func(id string) bool) []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entryPoint == "" || k <= 0 {
		return nil
	}
	if ef < k {
		ef = k * 2
	}

	entry := h.nodes[h.entryPoint]
	curr := []string{h.entryPoint}
	for lc := entry.level; lc > 0; lc-- {
		curr = h.searchLayer(query, curr, 1, lc, nil)
	}
	candidates := h.searchLayer(query, curr, ef, 0, nil)

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		n := h.nodes[id]
		if n.deleted {
			continue
		}
		if allowed != nil && !allowed(id) {
			continue
		}
		results = append(results, Result{ID: id, Distance: h.dist(query, n.vector)})
		if len(results) == k {
			break
		}
	}
	return results
}

// Delete soft-deletes a node. Deleted nodes keep routing traffic through the
// graph but never appear in results; Rebuild by the owner reclaims them.
func (h *HNSW) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, exists := h.nodes[id]
	if !exists || n.deleted {
		return false
	}
	n.deleted = true
	h.deleted++

	if h.entryPoint == id {
		h.entryPoint = ""
		for candidateID, candidate := range h.nodes {
			if !candidate.deleted {
				h.entryPoint = candidateID
				break
			}
		}
	}
	return true
}

// Len returns the number of live (non-deleted) nodes.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes) - h.deleted
}

// DeletedFraction returns the fraction of nodes that are soft-deleted.
func (h *HNSW) DeletedFraction() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.nodes) == 0 {
		return 0
	}
	return float64(h.deleted) / float64(len(h.nodes))
}

// searchLayer performs a best-first search within one layer, returning up to
// ef candidate IDs ordered closest first. Deleted nodes are traversed but
// still returned here; result-level filtering happens in SearchFiltered.
func (h *HNSW) searchLayer(query []float32, entryPoints []string, ef, layer int, _ func(string) bool) []string {
	visited := make(map[string]bool, ef*4)
	candidates := &minHeap{}
	nearest := &maxHeap{}

	for _, id := range entryPoints {
		n, ok := h.nodes[id]
		if !ok {
			continue
		}
		d := h.dist(query, n.vector)
		heap.Push(candidates, heapItem{id: id, dist: d})
		heap.Push(nearest, heapItem{id: id, dist: d})
		visited[id] = true
	}

	for candidates.Len() > 0 {
		curr := heap.Pop(candidates).(heapItem)
		if nearest.Len() >= ef && curr.dist > (*nearest)[0].dist {
			break
		}

		currNode := h.nodes[curr.id]
		if layer >= len(currNode.neighbors) {
			continue
		}
		for _, nb := range currNode.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			nbNode, ok := h.nodes[nb]
			if !ok {
				continue
			}
			d := h.dist(query, nbNode.vector)
			if nearest.Len() < ef || d < (*nearest)[0].dist {
				heap.Push(candidates, heapItem{id: nb, dist: d})
				heap.Push(nearest, heapItem{id: nb, dist: d})
				if nearest.Len() > ef {
					heap.Pop(nearest)
				}
			}
		}
	}

	out := make([]string, nearest.Len())
	for i := nearest.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(nearest).(heapItem).id
	}
	return out
}

// selectClosest keeps the max closest candidates to vector.
func (h *HNSW) selectClosest(vector []float32, candidates []string, max int) []string {
	if len(candidates) <= max {
		out := make([]string, len(candidates))
		copy(out, candidates)
		return out
	}

	items := make([]heapItem, 0, len(candidates))
	for _, id := range candidates {
		n, ok := h.nodes[id]
		if !ok {
			continue
		}
		items = append(items, heapItem{id: id, dist: h.dist(vector, n.vector)})
	}
	// Partial selection sort: max is small (the connectivity bound).
	for i := 0; i < max && i < len(items); i++ {
		best := i
		for j := i + 1; j < len(items); j++ {
			if items[j].dist < items[best].dist {
				best = j
			}
		}
		items[i], items[best] = items[best], items[i]
	}
	out := make([]string, 0, max)
	for i := 0; i < max && i < len(items); i++ {
		out = append(out, items[i].id)
	}
	return out
}

// connect adds a directed edge from -> to at the given layer.
func (h *HNSW) connect(from, to string, layer int) {
	fromNode, exists := h.nodes[from]
	if !exists || layer >= len(fromNode.neighbors) {
		return
	}
	for _, nb := range fromNode.neighbors[layer] {
		if nb == to {
			return
		}
	}
	fromNode.neighbors[layer] = append(fromNode.neighbors[layer], to)
}

// randomLevel draws a level with the standard exponential decay.
func (h *HNSW) randomLevel() int {
	level := 0
	for h.rng.Float64() < 0.5 && level < 16 {
		level++
	}
	return level
}

type heapItem struct {
	id   string
	dist float32
}

// minHeap pops the closest item first.
type minHeap []heapItem

func (q minHeap) Len() int            { return len(q) }
func (q minHeap) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q minHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *minHeap) Push(x interface{}) { *q = append(*q, x.(heapItem)) }
func (q *minHeap) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// maxHeap pops the farthest item first (bounded result set).
type maxHeap []heapItem

func (q maxHeap) Len() int            { return len(q) }
func (q maxHeap) Less(i, j int) bool  { return q[i].dist > q[j].dist }
func (q maxHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *maxHeap) Push(x interface{}) { *q = append(*q, x.(heapItem)) }
func (q *maxHeap) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Distance functions.

// L2Distance computes the Euclidean distance.
func L2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return float32(math.Sqrt(float64(sum)))
}

// CosineDistance computes 1 - cosine similarity.
func CosineDistance(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
