package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chunkd/internal/index"
	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/storage"
)

const tracerName = "chunkd/vectorstore"

// Options configures a Store.
type Options struct {
	// VectorSize is the required embedding dimension.
	VectorSize int
	// Metric selects the distance function, fixed per deployment.
	Metric Metric
	// ExactSearchThreshold is the per-URL chunk count at or below which
	// search runs brute-force instead of through the ANN index.
	ExactSearchThreshold int
	// HNSWM and HNSWEfConstruction shape the ANN graph.
	HNSWM              int
	HNSWEfConstruction int
	// HNSWEfSearch is the layer-0 search width for approximate queries.
	HNSWEfSearch int
	// CompactionThreshold is the soft-deleted fraction above which the
	// background compactor rebuilds the index. Defaults to 0.5.
	CompactionThreshold float64
}

// Store persists chunks in SQLite and maintains a derived in-memory ANN
// index over their embeddings. SQLite is the source of truth; the index is
// rebuilt from it at startup and during compaction.
type Store struct {
	db     *storage.DB
	opts   Options
	logger *logging.Logger

	// idx is swapped wholesale during rebuilds; the graph's own locking
	// covers concurrent reads and writes between swaps.
	idx atomic.Pointer[index.HNSW]
}

func (s *Store) graph() *index.HNSW {
	return s.idx.Load()
}

// New creates a Store and builds the index from the chunk table.
func New(ctx context.Context, db *storage.DB, opts Options, logger *logging.Logger) (*Store, error) {
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidArgument)
	}
	if opts.Metric == "" {
		opts.Metric = MetricCosine
	}
	if opts.ExactSearchThreshold <= 0 {
		opts.ExactSearchThreshold = 256
	}
	if opts.CompactionThreshold <= 0 {
		opts.CompactionThreshold = 0.5
	}

	s := &Store{
		db:     db,
		opts:   opts,
		logger: logger.Named("vectorstore"),
	}
	s.idx.Store(index.New(opts.HNSWM, opts.HNSWEfConstruction, opts.Metric.DistanceFunc()))
	if err := s.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	return s, nil
}

// ValidateBatch checks a batch before any write: non-empty, every chunk has
// content, and every embedding matches the configured dimension.
func (s *Store) ValidateBatch(chunks []ChunkInput) error {
	if len(chunks) == 0 {
		return ErrEmptyBatch
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			return fmt.Errorf("%w: chunk %d has empty content", ErrInvalidArgument, i)
		}
		if len(c.Embedding) != s.opts.VectorSize {
			return fmt.Errorf("%w: chunk %d has dimension %d, want %d",
				ErrDimensionMismatch, i, len(c.Embedding), s.opts.VectorSize)
		}
	}
	return nil
}

// AppendTx inserts a batch within the caller's transaction, assigning
// ordinals 0..N-1 from batch position. The caller validates first and
// indexes the returned chunks after commit.
func (s *Store) AppendTx(ctx context.Context, tx *sql.Tx, urlID, projectID string, chunks []ChunkInput) ([]Chunk, error) {
	now := time.Now().UTC()
	stored := make([]Chunk, 0, len(chunks))

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (chunk_id, url_id, project_id, content, chunk_index, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		blob, err := encodeVector(c.Embedding)
		if err != nil {
			return nil, fmt.Errorf("encoding chunk %d: %w", i, err)
		}
		chunk := Chunk{
			ChunkID:    uuid.NewString(),
			URLID:      urlID,
			ProjectID:  projectID,
			Content:    c.Content,
			ChunkIndex: i,
			Embedding:  c.Embedding,
			CreatedAt:  now,
		}
		if _, err := stmt.ExecContext(ctx, chunk.ChunkID, urlID, projectID, chunk.Content, i, blob, now); err != nil {
			return nil, fmt.Errorf("inserting chunk %d: %w", i, err)
		}
		stored = append(stored, chunk)
	}
	return stored, nil
}

// PutBatch validates and stores a batch in its own transaction, then indexes
// it. Callers that need the write to share a transaction with other state
// use ValidateBatch + AppendTx + IndexChunks instead.
func (s *Store) PutBatch(ctx context.Context, urlID, projectID string, chunks []ChunkInput) ([]Chunk, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.PutBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("url_id", urlID),
		attribute.Int("chunk_count", len(chunks)),
	)

	if err := s.ValidateBatch(chunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		PutBatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	var stored []Chunk
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = s.AppendTx(ctx, tx, urlID, projectID, chunks)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		PutBatchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.IndexChunks(ctx, stored)
	PutBatchesTotal.WithLabelValues("success").Inc()
	ChunksStored.Add(float64(len(stored)))
	s.logger.Debug(ctx, "chunk batch stored",
		zap.String("url_id", urlID), zap.Int("chunks", len(stored)))
	return stored, nil
}

// IndexChunks adds committed chunks to the ANN index. Failures are logged,
// not returned: the index is derived and the next rebuild heals it.
func (s *Store) IndexChunks(ctx context.Context, chunks []Chunk) {
	for _, c := range chunks {
		if err := s.graph().Insert(c.ChunkID, c.Embedding); err != nil {
			s.logger.Warn(ctx, "index insert failed",
				zap.String("chunk_id", c.ChunkID), zap.Error(err))
		}
	}
}

// GetByURL returns a URL's chunks ordered by ordinal. The projectID must
// match the chunks' stored project; a mismatch returns an empty slice, never
// another tenant's data.
func (s *Store) GetByURL(ctx context.Context, urlID, projectID string) ([]Chunk, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.GetByURL")
	defer span.End()
	span.SetAttributes(attribute.String("url_id", urlID))

	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT chunk_id, url_id, project_id, content, chunk_index, embedding, created_at
		 FROM chunks WHERE url_id = ? AND project_id = ? ORDER BY chunk_index ASC`, urlID, projectID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// CountByURL returns the number of chunks stored for a URL within a project.
func (s *Store) CountByURL(ctx context.Context, urlID, projectID string) (int, error) {
	var n int
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE url_id = ? AND project_id = ?`, urlID, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return n, nil
}

// DeleteByURLTx removes a URL's chunks within the caller's transaction and
// returns the removed chunk IDs for PurgeFromIndex after commit.
func (s *Store) DeleteByURLTx(ctx context.Context, tx *sql.Tx, urlID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE url_id = ?`, urlID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE url_id = ?`, urlID); err != nil {
		return nil, fmt.Errorf("deleting chunks: %w", err)
	}
	return ids, nil
}

// DeleteByURL removes a URL's chunks in its own transaction and purges them
// from the index. Deleting a URL with no chunks is a no-op.
func (s *Store) DeleteByURL(ctx context.Context, urlID string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.DeleteByURL")
	defer span.End()
	span.SetAttributes(attribute.String("url_id", urlID))

	var ids []string
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = s.DeleteByURLTx(ctx, tx, urlID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.PurgeFromIndex(ids)
	ChunksStored.Sub(float64(len(ids)))
	s.logger.Debug(ctx, "chunks deleted",
		zap.String("url_id", urlID), zap.Int("chunks", len(ids)))
	return nil
}

// PurgeFromIndex soft-deletes committed removals from the ANN index.
func (s *Store) PurgeFromIndex(chunkIDs []string) {
	for _, id := range chunkIDs {
		s.graph().Delete(id)
	}
	IndexDeletedFraction.Set(s.graph().DeletedFraction())
}

// Search returns the topK most similar chunks of a URL, ordered by
// descending similarity with ties broken by ascending ordinal. Small URLs
// are searched exactly; large ones through the ANN index restricted to the
// URL's chunk set.
func (s *Store) Search(ctx context.Context, urlID, projectID string, query []float32, topK int) ([]ScoredChunk, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("url_id", urlID),
		attribute.Int("top_k", topK),
	)

	if len(query) != s.opts.VectorSize {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d",
			ErrDimensionMismatch, len(query), s.opts.VectorSize)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", ErrInvalidArgument)
	}

	count, err := s.CountByURL(ctx, urlID, projectID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if count == 0 {
		return []ScoredChunk{}, nil
	}

	strategy := "exact"
	if count > s.opts.ExactSearchThreshold {
		strategy = "hnsw"
	}
	span.SetAttributes(attribute.String("strategy", strategy))
	start := time.Now()

	var results []ScoredChunk
	if strategy == "exact" {
		results, err = s.searchExact(ctx, urlID, projectID, query, topK)
	} else {
		results, err = s.searchApprox(ctx, urlID, projectID, query, topK, count)
	}
	SearchDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		SearchesTotal.WithLabelValues(strategy, "error").Inc()
		return nil, err
	}
	SearchesTotal.WithLabelValues(strategy, "success").Inc()
	return results, nil
}

// searchExact scores every chunk of the URL.
func (s *Store) searchExact(ctx context.Context, urlID, projectID string, query []float32, topK int) ([]ScoredChunk, error) {
	chunks, err := s.GetByURL(ctx, urlID, projectID)
	if err != nil {
		return nil, err
	}

	dist := s.opts.Metric.DistanceFunc()
	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		scored = append(scored, ScoredChunk{
			Chunk:           c,
			SimilarityScore: s.opts.Metric.Similarity(dist(query, c.Embedding)),
		})
	}
	sortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// searchApprox queries the ANN index restricted to the URL's chunk IDs.
func (s *Store) searchApprox(ctx context.Context, urlID, projectID string, query []float32, topK, count int) ([]ScoredChunk, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT chunk_id FROM chunks WHERE url_id = ? AND project_id = ?`, urlID, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	allowed := make(map[string]bool, count)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		allowed[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// ef scaled to the allow-set's selectivity so the filtered result set
	// still fills topK; floor keeps small efSearch configs usable.
	ef := s.opts.HNSWEfSearch
	if ef < topK*4 {
		ef = topK * 4
	}
	total := s.graph().Len()
	if total > 0 && count < total {
		ef = ef * total / count
		if ef > total {
			ef = total
		}
	}

	hits := s.graph().SearchFiltered(query, topK, ef, func(id string) bool { return allowed[id] })
	if len(hits) < topK && len(hits) < count {
		// The traversal missed part of a sparse allow-set; fall back to
		// exact scoring rather than return an under-filled result.
		return s.searchExact(ctx, urlID, projectID, query, topK)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := s.getByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := chunks[h.ID]
		if !ok {
			continue
		}
		scored = append(scored, ScoredChunk{
			Chunk:           c,
			SimilarityScore: s.opts.Metric.Similarity(h.Distance),
		})
	}
	sortScored(scored)
	return scored, nil
}

// getByIDs fetches chunks by ID.
func (s *Store) getByIDs(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if len(ids) == 0 {
		return map[string]Chunk{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT chunk_id, url_id, project_id, content, chunk_index, embedding, created_at
		 FROM chunks WHERE chunk_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	return byID, nil
}

// Rebuild recreates the ANN index from the chunk table. The new graph is
// built off to the side and swapped in, so searches keep serving the old
// one meanwhile.
func (s *Store) Rebuild(ctx context.Context) error {
	fresh := index.New(s.opts.HNSWM, s.opts.HNSWEfConstruction, s.opts.Metric.DistanceFunc())

	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT chunk_id, embedding FROM chunks ORDER BY rowid ASC`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", id, err)
		}
		if err := fresh.Insert(id, vec); err != nil {
			return fmt.Errorf("chunk %s: %w", id, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.idx.Store(fresh)
	IndexRebuildsTotal.Inc()
	IndexDeletedFraction.Set(0)
	ChunksStored.Set(float64(n))
	s.logger.Info(ctx, "index rebuilt", zap.Int("chunks", n))
	return nil
}

// StartCompaction launches a background loop that rebuilds the index
// whenever its soft-deleted fraction crosses the threshold. It stops when
// ctx is cancelled.
func (s *Store) StartCompaction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frac := s.graph().DeletedFraction()
				IndexDeletedFraction.Set(frac)
				if frac <= s.opts.CompactionThreshold {
					continue
				}
				s.logger.Info(ctx, "compacting index", zap.Float64("deleted_fraction", frac))
				if err := s.Rebuild(ctx); err != nil {
					s.logger.Error(ctx, "index compaction failed", zap.Error(err))
				}
			}
		}
	}()
}

// sortScored orders by descending similarity, ties broken by ascending
// ordinal so results are deterministic.
func sortScored(scored []ScoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].SimilarityScore != scored[j].SimilarityScore {
			return scored[i].SimilarityScore > scored[j].SimilarityScore
		}
		return scored[i].ChunkIndex < scored[j].ChunkIndex
	})
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ChunkID, &c.URLID, &c.ProjectID, &c.Content, &c.ChunkIndex, &blob, &c.CreatedAt); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ChunkID, err)
		}
		c.Embedding = vec
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []Chunk{}
	}
	return chunks, nil
}
