// Package query answers top-K similarity queries against a URL's chunks.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chunkd/internal/embeddings"
	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/vectorstore"
)

const tracerName = "chunkd/query"

const (
	// MaxQueryLength bounds the trimmed query text, counted in characters.
	MaxQueryLength = 1000

	// MaxTopK bounds requested result counts; DefaultTopK applies when the
	// caller passes zero.
	MaxTopK     = 50
	DefaultTopK = 5

	searchAttempts  = 3
	searchBaseDelay = 50 * time.Millisecond
)

var (
	// ErrInvalidQuery indicates empty, blank, or over-long query text, or an
	// out-of-range top_k.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrEmbeddingUnavailable indicates the embedding backend failed or
	// timed out.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// Request is a validated-on-entry similarity query.
type Request struct {
	ProjectID string
	URLID     string
	Query     string
	TopK      int
}

// Engine embeds query text and searches the vector store.
type Engine struct {
	store    *vectorstore.Store
	embedder embeddings.Embedder
	logger   *logging.Logger
}

// NewEngine creates an Engine.
func NewEngine(store *vectorstore.Store, embedder embeddings.Embedder, logger *logging.Logger) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		logger:   logger.Named("query"),
	}
}

// Query validates the request, embeds the query text, and returns up to TopK
// chunks ordered by descending similarity. Validation happens before the
// embedder is called, so malformed requests never reach the backend.
// Transient storage failures are retried with bounded backoff; embedding
// failures are not retried here and surface as ErrEmbeddingUnavailable.
func (e *Engine) Query(ctx context.Context, req Request) ([]vectorstore.ScoredChunk, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "query.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("url_id", req.URLID),
		attribute.Int("top_k", req.TopK),
	)

	text := strings.TrimSpace(req.Query)
	if text == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidQuery)
	}
	if utf8.RuneCountInString(text) > MaxQueryLength {
		return nil, fmt.Errorf("%w: query exceeds %d characters", ErrInvalidQuery, MaxQueryLength)
	}
	topK := req.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return nil, fmt.Errorf("%w: top_k must be between 1 and %d", ErrInvalidQuery, MaxTopK)
	}

	start := time.Now()
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		QueriesTotal.WithLabelValues("embedding_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	results, err := e.searchWithRetry(ctx, req.URLID, req.ProjectID, vector, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		QueriesTotal.WithLabelValues("search_error").Inc()
		return nil, err
	}

	QueriesTotal.WithLabelValues("success").Inc()
	QueryDuration.Observe(time.Since(start).Seconds())
	e.logger.Debug(ctx, "query answered",
		zap.String("url_id", req.URLID),
		zap.Int("results", len(results)))
	return results, nil
}

// searchWithRetry retries transient storage failures on the read path.
// Validation errors pass through untouched: retrying cannot fix them.
func (e *Engine) searchWithRetry(ctx context.Context, urlID, projectID string, vector []float32, topK int) ([]vectorstore.ScoredChunk, error) {
	var lastErr error
	for attempt := 0; attempt < searchAttempts; attempt++ {
		if attempt > 0 {
			delay := searchBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			SearchRetriesTotal.Inc()
		}

		results, err := e.store.Search(ctx, urlID, projectID, vector, topK)
		if err == nil {
			return results, nil
		}
		if !errors.Is(err, vectorstore.ErrStorageUnavailable) {
			return nil, err
		}
		lastErr = err
		e.logger.Warn(ctx, "search attempt failed",
			zap.String("url_id", urlID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}
