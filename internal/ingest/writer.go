// Package ingest couples chunk persistence to the URL lifecycle: a batch of
// encoded chunks lands atomically with the URL's transition to stored.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chunkd/internal/lifecycle"
	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/storage"
	"github.com/fyrsmithlabs/chunkd/internal/vectorstore"
)

const tracerName = "chunkd/ingest"

// Writer persists finished chunk batches on behalf of the crawl pipeline.
type Writer struct {
	db    *storage.DB
	store *vectorstore.Store
	coord *lifecycle.Coordinator

	// locks serializes ingests per URL. Entries are never removed; the
	// working set is bounded by the number of URLs in flight.
	locks  sync.Map
	logger *logging.Logger
}

// NewWriter creates a Writer.
func NewWriter(db *storage.DB, store *vectorstore.Store, coord *lifecycle.Coordinator, logger *logging.Logger) *Writer {
	return &Writer{
		db:     db,
		store:  store,
		coord:  coord,
		logger: logger.Named("ingest"),
	}
}

// Ingest writes a URL's chunk batch and flips the URL to stored, atomically.
// The URL must be in encoding. An invalid batch (empty, blank content, or a
// dimension mismatch) writes nothing and marks the URL failed with the
// reason, so operators see why the URL did not complete.
//
// Concurrent ingests for the same URL serialize; the loser then fails the
// status check, so a batch is never applied twice.
func (w *Writer) Ingest(ctx context.Context, projectID, urlID string, chunks []vectorstore.ChunkInput) ([]vectorstore.Chunk, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("url_id", urlID),
		attribute.Int("chunk_count", len(chunks)),
	)

	mu, _ := w.locks.LoadOrStore(urlID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	// The URL lookup runs before batch validation so an unknown URL reports
	// NotFound rather than a validation error, and failURL never targets a
	// URL that does not exist.
	start := time.Now()
	var stored []vectorstore.Chunk
	err := w.db.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := w.coord.RequireStatusTx(ctx, tx, projectID, urlID, lifecycle.StatusEncoding)
		if err != nil {
			return err
		}
		if err := w.store.ValidateBatch(chunks); err != nil {
			return err
		}
		stored, err = w.store.AppendTx(ctx, tx, urlID, projectID, chunks)
		if err != nil {
			return err
		}
		_, err = w.coord.SetStatusTx(ctx, tx, u, lifecycle.StatusStored, nil)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isValidationError(err) {
			w.failURL(ctx, projectID, urlID, err)
			IngestsTotal.WithLabelValues("invalid").Inc()
			return nil, err
		}
		IngestsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, lifecycle.ErrInvalidState) || errors.Is(err, lifecycle.ErrURLNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ingesting chunks: %w", err)
	}

	w.store.IndexChunks(ctx, stored)
	IngestsTotal.WithLabelValues("success").Inc()
	IngestDuration.Observe(time.Since(start).Seconds())
	ChunksIngested.Add(float64(len(stored)))

	w.logger.Info(ctx, "url ingested",
		zap.String("project_id", projectID),
		zap.String("url_id", urlID),
		zap.Int("chunks", len(stored)))
	return stored, nil
}

// isValidationError reports whether err is a batch validation failure, which
// marks the URL failed instead of leaving it in encoding.
func isValidationError(err error) bool {
	return errors.Is(err, vectorstore.ErrEmptyBatch) ||
		errors.Is(err, vectorstore.ErrInvalidArgument) ||
		errors.Is(err, vectorstore.ErrDimensionMismatch)
}

// failURL records a validation failure as the URL's failed state. A URL that
// is not in a failable state keeps its current status.
func (w *Writer) failURL(ctx context.Context, projectID, urlID string, cause error) {
	if _, err := w.coord.MarkFailed(ctx, projectID, urlID, cause.Error()); err != nil {
		w.logger.Warn(ctx, "could not mark url failed",
			zap.String("url_id", urlID), zap.Error(err))
	}
}
