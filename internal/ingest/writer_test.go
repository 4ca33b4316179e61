package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chunkd/internal/lifecycle"
	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/storage"
	"github.com/fyrsmithlabs/chunkd/internal/vectorstore"
)

type fixture struct {
	writer *Writer
	store  *vectorstore.Store
	coord  *lifecycle.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := vectorstore.New(ctx, db, vectorstore.Options{VectorSize: 3}, logging.NewNop())
	require.NoError(t, err)
	coord := lifecycle.NewCoordinator(db, store, logging.NewNop())

	return &fixture{
		writer: NewWriter(db, store, coord, logging.NewNop()),
		store:  store,
		coord:  coord,
	}
}

// submitEncoding walks a fresh URL to encoding.
func (f *fixture) submitEncoding(t *testing.T, path string) (projectID, urlID string) {
	t.Helper()
	ctx := context.Background()

	p, err := f.coord.CreateProject(ctx, "p")
	require.NoError(t, err)
	u, err := f.coord.Submit(ctx, p.ProjectID, "https://example.com/"+path)
	require.NoError(t, err)
	_, err = f.coord.BeginCrawling(ctx, p.ProjectID, u.URLID)
	require.NoError(t, err)
	_, err = f.coord.BeginEncoding(ctx, p.ProjectID, u.URLID)
	require.NoError(t, err)
	return p.ProjectID, u.URLID
}

func TestIngestSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID, urlID := f.submitEncoding(t, "a")

	stored, err := f.writer.Ingest(ctx, projectID, urlID, []vectorstore.ChunkInput{
		{Content: "first", Embedding: []float32{1, 0, 0}},
		{Content: "second", Embedding: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	u, err := f.coord.Get(ctx, projectID, urlID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusStored, u.Status)

	chunks, err := f.store.GetByURL(ctx, urlID, projectID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
}

func TestIngestDimensionMismatchMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID, urlID := f.submitEncoding(t, "a")

	_, err := f.writer.Ingest(ctx, projectID, urlID, []vectorstore.ChunkInput{
		{Content: "ok", Embedding: []float32{1, 0, 0}},
		{Content: "bad", Embedding: []float32{1, 0}},
	})
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	// The whole batch is rejected and the URL records the reason.
	u, err := f.coord.Get(ctx, projectID, urlID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusFailed, u.Status)
	require.NotNil(t, u.FailureReason)
	assert.Contains(t, *u.FailureReason, "dimension")

	chunks, err := f.store.GetByURL(ctx, urlID, projectID)
	require.NoError(t, err)
	assert.Empty(t, chunks, "no partial writes")
}

func TestIngestEmptyBatchMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID, urlID := f.submitEncoding(t, "a")

	_, err := f.writer.Ingest(ctx, projectID, urlID, nil)
	require.ErrorIs(t, err, vectorstore.ErrEmptyBatch)

	u, err := f.coord.Get(ctx, projectID, urlID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusFailed, u.Status)
}

func TestIngestRequiresEncoding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.coord.CreateProject(ctx, "p")
	require.NoError(t, err)
	u, err := f.coord.Submit(ctx, p.ProjectID, "https://example.com/a")
	require.NoError(t, err)

	_, err = f.writer.Ingest(ctx, p.ProjectID, u.URLID, []vectorstore.ChunkInput{
		{Content: "c", Embedding: []float32{1, 0, 0}},
	})
	require.ErrorIs(t, err, lifecycle.ErrInvalidState)

	got, err := f.coord.Get(ctx, p.ProjectID, u.URLID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusPending, got.Status, "status untouched")
}

func TestIngestUnknownURL(t *testing.T) {
	f := newFixture(t)
	_, err := f.writer.Ingest(context.Background(), "p", "missing", []vectorstore.ChunkInput{
		{Content: "c", Embedding: []float32{1, 0, 0}},
	})
	assert.ErrorIs(t, err, lifecycle.ErrURLNotFound)

	// The URL lookup wins over batch validation: an unknown URL with a bad
	// batch still reports NotFound, not a dimension mismatch.
	_, err = f.writer.Ingest(context.Background(), "p", "missing", []vectorstore.ChunkInput{
		{Content: "c", Embedding: []float32{1, 0}},
	})
	assert.ErrorIs(t, err, lifecycle.ErrURLNotFound)
	assert.NotErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestIngestAfterReprocessReplacesChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID, urlID := f.submitEncoding(t, "a")

	_, err := f.writer.Ingest(ctx, projectID, urlID, []vectorstore.ChunkInput{
		{Content: "A", Embedding: []float32{1, 0, 0}},
		{Content: "B", Embedding: []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	_, err = f.coord.Reprocess(ctx, projectID, urlID)
	require.NoError(t, err)
	_, err = f.coord.BeginCrawling(ctx, projectID, urlID)
	require.NoError(t, err)
	_, err = f.coord.BeginEncoding(ctx, projectID, urlID)
	require.NoError(t, err)

	_, err = f.writer.Ingest(ctx, projectID, urlID, []vectorstore.ChunkInput{
		{Content: "C", Embedding: []float32{0, 0, 1}},
	})
	require.NoError(t, err)

	chunks, err := f.store.GetByURL(ctx, urlID, projectID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "C", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
}

func TestConcurrentIngestAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID, urlID := f.submitEncoding(t, "a")

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.writer.Ingest(ctx, projectID, urlID, []vectorstore.ChunkInput{
				{Content: fmt.Sprintf("w%d", i), Embedding: []float32{1, 0, 0}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one ingest wins")

	chunks, err := f.store.GetByURL(ctx, urlID, projectID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}
