package lifecycle

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/storage"
	"github.com/fyrsmithlabs/chunkd/internal/vectorstore"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *vectorstore.Store) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := vectorstore.New(ctx, db, vectorstore.Options{VectorSize: 3}, logging.NewNop())
	require.NoError(t, err)

	return NewCoordinator(db, store, logging.NewNop()), store
}

func TestCreateAndGetProject(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "docs site")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ProjectID)

	got, err := c.GetProject(ctx, p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "docs site", got.ProjectName)

	_, err = c.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSubmitAndGet(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)

	u, err := c.Submit(ctx, p.ProjectID, "https://Example.com/docs#intro")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, u.Status)
	assert.Equal(t, "https://example.com/docs", u.OriginalURL, "host lowercased, fragment dropped")
	assert.Nil(t, u.FailureReason)

	got, err := c.Get(ctx, p.ProjectID, u.URLID)
	require.NoError(t, err)
	assert.Equal(t, u.URLID, got.URLID)

	// The URL is invisible from another project.
	other, err := c.CreateProject(ctx, "other")
	require.NoError(t, err)
	_, err = c.Get(ctx, other.ProjectID, u.URLID)
	assert.ErrorIs(t, err, ErrURLNotFound)
}

func TestSubmitDuplicate(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)

	first, err := c.Submit(ctx, p.ProjectID, "https://example.com/a")
	require.NoError(t, err)

	// Normalization-equivalent spellings collide.
	_, err = c.Submit(ctx, p.ProjectID, "https://EXAMPLE.com/a#frag")
	require.ErrorIs(t, err, ErrDuplicateURL)

	var dup *DuplicateURLError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.URLID, dup.URLID)
	assert.Equal(t, p.ProjectID, dup.ProjectID)
	assert.False(t, dup.LastUpdatedAt.IsZero())

	// The same URL in another project is not a duplicate.
	other, err := c.CreateProject(ctx, "other")
	require.NoError(t, err)
	_, err = c.Submit(ctx, other.ProjectID, "https://example.com/a")
	assert.NoError(t, err)
}

func TestSubmitInvalidURL(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)

	for _, raw := range []string{"", "   ", "ftp://example.com", "not a url", "/relative/path"} {
		_, err := c.Submit(ctx, p.ProjectID, raw)
		assert.ErrorIs(t, err, ErrInvalidURL, "raw=%q", raw)
	}
}

func TestSubmitUnknownProject(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Submit(context.Background(), "missing", "https://example.com")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSubmitBatch(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)

	existing, err := c.Submit(ctx, p.ProjectID, "https://example.com/a")
	require.NoError(t, err)

	result, err := c.SubmitBatch(ctx, p.ProjectID, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	})
	require.NoError(t, err)
	assert.Len(t, result.SubmittedURLs, 2)
	require.Len(t, result.DuplicateURLs, 1)
	assert.Equal(t, existing.URLID, result.DuplicateURLs[0].URLID)

	// One malformed URL aborts the whole batch.
	_, err = c.SubmitBatch(ctx, p.ProjectID, []string{"https://example.com/d", "bogus"})
	require.ErrorIs(t, err, ErrInvalidURL)
	urls, err := c.List(ctx, p.ProjectID, "")
	require.NoError(t, err)
	assert.Len(t, urls, 3, "aborted batch wrote nothing")
}

func TestListWithStatusFilter(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)

	a, err := c.Submit(ctx, p.ProjectID, "https://example.com/a")
	require.NoError(t, err)
	_, err = c.Submit(ctx, p.ProjectID, "https://example.com/b")
	require.NoError(t, err)

	_, err = c.BeginCrawling(ctx, p.ProjectID, a.URLID)
	require.NoError(t, err)

	all, err := c.List(ctx, p.ProjectID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := c.List(ctx, p.ProjectID, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	crawling, err := c.List(ctx, p.ProjectID, StatusCrawling)
	require.NoError(t, err)
	require.Len(t, crawling, 1)
	assert.Equal(t, a.URLID, crawling[0].URLID)

	_, err = c.List(ctx, p.ProjectID, "bogus")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTransitions(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)
	u, err := c.Submit(ctx, p.ProjectID, "https://example.com")
	require.NoError(t, err)

	// encoding before crawling is forbidden.
	_, err = c.BeginEncoding(ctx, p.ProjectID, u.URLID)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := c.BeginCrawling(ctx, p.ProjectID, u.URLID)
	require.NoError(t, err)
	assert.Equal(t, StatusCrawling, got.Status)

	// crawling is not repeatable.
	_, err = c.BeginCrawling(ctx, p.ProjectID, u.URLID)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err = c.BeginEncoding(ctx, p.ProjectID, u.URLID)
	require.NoError(t, err)
	assert.Equal(t, StatusEncoding, got.Status)

	got, err = c.MarkFailed(ctx, p.ProjectID, u.URLID, "fetch timed out")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "fetch timed out", *got.FailureReason)

	// failed is terminal for MarkFailed.
	_, err = c.MarkFailed(ctx, p.ProjectID, u.URLID, "again")
	assert.ErrorIs(t, err, ErrInvalidState)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusFailed, stateErr.Status)
}

func TestTransitionUnknownURL(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)

	_, err = c.BeginCrawling(ctx, p.ProjectID, "missing")
	assert.ErrorIs(t, err, ErrURLNotFound)
}

// seedStoredURL walks a URL to stored with chunks in place.
func seedStoredURL(t *testing.T, c *Coordinator, store *vectorstore.Store, projectID string, contents ...string) URL {
	t.Helper()
	ctx := context.Background()

	u, err := c.Submit(ctx, projectID, "https://example.com/page-"+contents[0])
	require.NoError(t, err)
	_, err = c.BeginCrawling(ctx, projectID, u.URLID)
	require.NoError(t, err)
	_, err = c.BeginEncoding(ctx, projectID, u.URLID)
	require.NoError(t, err)

	batch := make([]vectorstore.ChunkInput, len(contents))
	for i, content := range contents {
		batch[i] = vectorstore.ChunkInput{Content: content, Embedding: []float32{float32(i), 1, 0}}
	}
	_, err = store.PutBatch(ctx, u.URLID, projectID, batch)
	require.NoError(t, err)

	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		loaded, err := c.RequireStatusTx(ctx, tx, projectID, u.URLID, StatusEncoding)
		if err != nil {
			return err
		}
		_, err = c.SetStatusTx(ctx, tx, loaded, StatusStored, nil)
		return err
	})
	require.NoError(t, err)

	stored, err := c.Get(ctx, projectID, u.URLID)
	require.NoError(t, err)
	require.Equal(t, StatusStored, stored.Status)
	return stored
}

func TestReprocessPurgesChunks(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)
	u := seedStoredURL(t, c, store, p.ProjectID, "A", "B")

	got, err := c.Reprocess(ctx, p.ProjectID, u.URLID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.FailureReason)

	chunks, err := store.GetByURL(ctx, u.URLID, p.ProjectID)
	require.NoError(t, err)
	assert.Empty(t, chunks, "reprocess purges prior chunks")

	// pending does not admit reprocess.
	_, err = c.Reprocess(ctx, p.ProjectID, u.URLID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeleteCascades(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)
	u := seedStoredURL(t, c, store, p.ProjectID, "A")

	require.NoError(t, c.Delete(ctx, p.ProjectID, u.URLID))

	_, err = c.Get(ctx, p.ProjectID, u.URLID)
	assert.ErrorIs(t, err, ErrURLNotFound)

	chunks, err := store.GetByURL(ctx, u.URLID, p.ProjectID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	err = c.Delete(ctx, p.ProjectID, u.URLID)
	assert.ErrorIs(t, err, ErrURLNotFound)
}

func TestDeleteProjectCascades(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "p")
	require.NoError(t, err)
	u := seedStoredURL(t, c, store, p.ProjectID, "A", "B")

	require.NoError(t, c.DeleteProject(ctx, p.ProjectID))

	_, err = c.GetProject(ctx, p.ProjectID)
	assert.ErrorIs(t, err, ErrProjectNotFound)

	chunks, err := store.GetByURL(ctx, u.URLID, p.ProjectID)
	require.NoError(t, err)
	assert.Empty(t, chunks, "project delete cascades to chunks")
}
