// Package vectorstore persists chunk embeddings in SQLite and serves
// similarity search over them, exact or approximate depending on scale.
package vectorstore

import "time"

// Chunk is a stored slice of a page's content together with its embedding.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	URLID      string    `json:"url_id"`
	ProjectID  string    `json:"project_id"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunk_index"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkInput is one chunk of an ingest batch. Ordinals are assigned from
// batch position.
type ChunkInput struct {
	Content   string
	Embedding []float32
}

// ScoredChunk is a search hit with its similarity score in [0, 1].
type ScoredChunk struct {
	Chunk
	SimilarityScore float64 `json:"similarity_score"`
}
