package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/storage"
)

const tracerName = "chunkd/lifecycle"

// ChunkPurger removes a URL's chunks. The transactional half runs inside the
// coordinator's transaction; the index half runs after commit.
type ChunkPurger interface {
	DeleteByURLTx(ctx context.Context, tx *sql.Tx, urlID string) ([]string, error)
	PurgeFromIndex(chunkIDs []string)
}

// Coordinator owns projects and the URL state machine.
type Coordinator struct {
	db     *storage.DB
	purger ChunkPurger
	logger *logging.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(db *storage.DB, purger ChunkPurger, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		db:     db,
		purger: purger,
		logger: logger.Named("lifecycle"),
	}
}

// CreateProject registers a new tenant.
func (c *Coordinator) CreateProject(ctx context.Context, name string) (Project, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.CreateProject")
	defer span.End()

	p := Project{
		ProjectID:   uuid.NewString(),
		ProjectName: name,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := c.db.SQL().ExecContext(ctx,
		`INSERT INTO projects (project_id, project_name, created_at) VALUES (?, ?, ?)`,
		p.ProjectID, p.ProjectName, p.CreatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Project{}, fmt.Errorf("creating project: %w", err)
	}

	c.logger.Info(ctx, "project created",
		zap.String("project_id", p.ProjectID), zap.String("project_name", name))
	return p, nil
}

// GetProject looks up a project.
func (c *Coordinator) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := c.db.SQL().QueryRowContext(ctx,
		`SELECT project_id, project_name, created_at FROM projects WHERE project_id = ?`,
		projectID).Scan(&p.ProjectID, &p.ProjectName, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return Project{}, fmt.Errorf("looking up project: %w", err)
	}
	return p, nil
}

// DeleteProject removes a project and everything under it. URL and chunk
// rows go via foreign-key cascade in one transaction; the index purge
// happens after commit.
func (c *Coordinator) DeleteProject(ctx context.Context, projectID string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.DeleteProject")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	var chunkIDs []string
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE project_id = ?`, projectID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			chunkIDs = append(chunkIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, projectID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.purger.PurgeFromIndex(chunkIDs)
	c.logger.Info(ctx, "project deleted",
		zap.String("project_id", projectID), zap.Int("chunks_purged", len(chunkIDs)))
	return nil
}

// Submit registers a URL in pending. The URL is normalized before the
// duplicate check; a duplicate returns a DuplicateURLError carrying the
// existing URL's identity.
func (c *Coordinator) Submit(ctx context.Context, projectID, rawURL string) (URL, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return URL{}, err
	}
	if _, err := c.GetProject(ctx, projectID); err != nil {
		return URL{}, err
	}

	var created URL
	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = c.submitTx(ctx, tx, projectID, normalized)
		return err
	})
	if err != nil {
		var dup *DuplicateURLError
		if !errors.As(err, &dup) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return URL{}, err
	}

	c.logger.Info(ctx, "url submitted",
		zap.String("project_id", projectID), zap.String("url_id", created.URLID))
	return created, nil
}

// SubmitBatch registers many URLs in one transaction. Duplicates are
// reported, not fatal; a URL that fails normalization aborts the batch.
func (c *Coordinator) SubmitBatch(ctx context.Context, projectID string, rawURLs []string) (BatchResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.SubmitBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.Int("url_count", len(rawURLs)),
	)

	normalized := make([]string, len(rawURLs))
	for i, raw := range rawURLs {
		n, err := NormalizeURL(raw)
		if err != nil {
			return BatchResult{}, fmt.Errorf("url %d: %w", i, err)
		}
		normalized[i] = n
	}
	if _, err := c.GetProject(ctx, projectID); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{SubmittedURLs: []URL{}, DuplicateURLs: []URLRef{}}
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, u := range normalized {
			created, err := c.submitTx(ctx, tx, projectID, u)
			if err != nil {
				var dup *DuplicateURLError
				if errors.As(err, &dup) {
					result.DuplicateURLs = append(result.DuplicateURLs, URLRef{
						URLID:         dup.URLID,
						ProjectID:     dup.ProjectID,
						LastUpdatedAt: dup.LastUpdatedAt,
					})
					continue
				}
				return err
			}
			result.SubmittedURLs = append(result.SubmittedURLs, created)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BatchResult{}, err
	}
	return result, nil
}

// submitTx performs the duplicate check and insert within a transaction, so
// concurrent submits of the same URL serialize on the row.
func (c *Coordinator) submitTx(ctx context.Context, tx *sql.Tx, projectID, normalized string) (URL, error) {
	var existing URLRef
	err := tx.QueryRowContext(ctx,
		`SELECT url_id, project_id, last_updated_at FROM urls WHERE project_id = ? AND original_url = ?`,
		projectID, normalized).Scan(&existing.URLID, &existing.ProjectID, &existing.LastUpdatedAt)
	if err == nil {
		return URL{}, &DuplicateURLError{
			URLID:         existing.URLID,
			ProjectID:     existing.ProjectID,
			LastUpdatedAt: existing.LastUpdatedAt,
		}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return URL{}, err
	}

	now := time.Now().UTC()
	u := URL{
		URLID:         uuid.NewString(),
		ProjectID:     projectID,
		OriginalURL:   normalized,
		Status:        StatusPending,
		SubmittedAt:   now,
		LastUpdatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO urls (url_id, project_id, original_url, status, submitted_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.URLID, u.ProjectID, u.OriginalURL, string(u.Status), u.SubmittedAt, u.LastUpdatedAt)
	if err != nil {
		return URL{}, fmt.Errorf("inserting url: %w", err)
	}
	return u, nil
}

// Get looks up a URL within a project. A url_id that exists under another
// project is not found.
func (c *Coordinator) Get(ctx context.Context, projectID, urlID string) (URL, error) {
	return scanURL(c.db.SQL().QueryRowContext(ctx,
		`SELECT url_id, project_id, original_url, status, failure_reason, submitted_at, last_updated_at
		 FROM urls WHERE url_id = ? AND project_id = ?`, urlID, projectID))
}

// List returns a project's URLs, optionally filtered by status.
func (c *Coordinator) List(ctx context.Context, projectID string, status URLStatus) ([]URL, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidState, status)
	}
	if _, err := c.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	q := `SELECT url_id, project_id, original_url, status, failure_reason, submitted_at, last_updated_at
	      FROM urls WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY submitted_at ASC`

	rows, err := c.db.SQL().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing urls: %w", err)
	}
	defer rows.Close()

	urls := []URL{}
	for rows.Next() {
		u, err := scanURLRow(rows)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// BeginCrawling transitions pending -> crawling.
func (c *Coordinator) BeginCrawling(ctx context.Context, projectID, urlID string) (URL, error) {
	return c.transition(ctx, projectID, urlID, []URLStatus{StatusPending}, StatusCrawling, nil)
}

// BeginEncoding transitions crawling -> encoding.
func (c *Coordinator) BeginEncoding(ctx context.Context, projectID, urlID string) (URL, error) {
	return c.transition(ctx, projectID, urlID, []URLStatus{StatusCrawling}, StatusEncoding, nil)
}

// MarkFailed transitions any non-terminal state to failed and records the
// reason.
func (c *Coordinator) MarkFailed(ctx context.Context, projectID, urlID, reason string) (URL, error) {
	return c.transition(ctx, projectID, urlID,
		[]URLStatus{StatusPending, StatusCrawling, StatusEncoding}, StatusFailed, &reason)
}

// Reprocess returns a stored or failed URL to pending, clearing the failure
// reason and purging its chunks in the same transaction so stale content is
// never served alongside the re-crawl.
func (c *Coordinator) Reprocess(ctx context.Context, projectID, urlID string) (URL, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.Reprocess")
	defer span.End()
	span.SetAttributes(attribute.String("url_id", urlID))

	var updated URL
	var chunkIDs []string
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := c.RequireStatusTx(ctx, tx, projectID, urlID, StatusStored, StatusFailed)
		if err != nil {
			return err
		}
		chunkIDs, err = c.purger.DeleteByURLTx(ctx, tx, urlID)
		if err != nil {
			return err
		}
		updated, err = c.setStatusTx(ctx, tx, u, StatusPending, nil)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return URL{}, err
	}

	c.purger.PurgeFromIndex(chunkIDs)
	c.logger.Info(ctx, "url queued for reprocessing",
		zap.String("url_id", urlID), zap.Int("chunks_purged", len(chunkIDs)))
	return updated, nil
}

// Delete removes a URL and its chunks in one transaction. The index purge
// follows commit; deletion is terminal.
func (c *Coordinator) Delete(ctx context.Context, projectID, urlID string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("url_id", urlID))

	var chunkIDs []string
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		chunkIDs, err = c.purger.DeleteByURLTx(ctx, tx, urlID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM urls WHERE url_id = ? AND project_id = ?`, urlID, projectID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrURLNotFound, urlID)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.purger.PurgeFromIndex(chunkIDs)
	c.logger.Info(ctx, "url deleted",
		zap.String("url_id", urlID), zap.Int("chunks_purged", len(chunkIDs)))
	return nil
}

// RequireStatusTx loads a URL inside a transaction and verifies its status
// is one of want. Writers use it to couple chunk writes to the state
// machine.
func (c *Coordinator) RequireStatusTx(ctx context.Context, tx *sql.Tx, projectID, urlID string, want ...URLStatus) (URL, error) {
	u, err := scanURL(tx.QueryRowContext(ctx,
		`SELECT url_id, project_id, original_url, status, failure_reason, submitted_at, last_updated_at
		 FROM urls WHERE url_id = ? AND project_id = ?`, urlID, projectID))
	if err != nil {
		return URL{}, err
	}
	for _, w := range want {
		if u.Status == w {
			return u, nil
		}
	}
	return URL{}, &InvalidStateError{URLID: urlID, Status: u.Status, Want: statusList(want)}
}

// SetStatusTx updates a URL's status inside a caller-owned transaction.
func (c *Coordinator) SetStatusTx(ctx context.Context, tx *sql.Tx, u URL, to URLStatus, reason *string) (URL, error) {
	return c.setStatusTx(ctx, tx, u, to, reason)
}

func (c *Coordinator) setStatusTx(ctx context.Context, tx *sql.Tx, u URL, to URLStatus, reason *string) (URL, error) {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		`UPDATE urls SET status = ?, failure_reason = ?, last_updated_at = ? WHERE url_id = ?`,
		string(to), reason, now, u.URLID)
	if err != nil {
		return URL{}, fmt.Errorf("updating url status: %w", err)
	}
	u.Status = to
	u.FailureReason = reason
	u.LastUpdatedAt = now
	return u, nil
}

// transition runs a from-set -> to status change in its own transaction.
func (c *Coordinator) transition(ctx context.Context, projectID, urlID string, from []URLStatus, to URLStatus, reason *string) (URL, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("url_id", urlID),
		attribute.String("to_status", string(to)),
	)

	var updated URL
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := c.RequireStatusTx(ctx, tx, projectID, urlID, from...)
		if err != nil {
			return err
		}
		updated, err = c.setStatusTx(ctx, tx, u, to, reason)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrURLNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return URL{}, err
	}

	c.logger.Debug(ctx, "url status changed",
		zap.String("url_id", urlID), zap.String("status", string(to)))
	return updated, nil
}

func statusList(statuses []URLStatus) string {
	out := ""
	for i, s := range statuses {
		if i > 0 {
			out += " or "
		}
		out += string(s)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanURL(row rowScanner) (URL, error) {
	u, err := scanURLRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return URL{}, ErrURLNotFound
	}
	return u, err
}

func scanURLRow(row rowScanner) (URL, error) {
	var u URL
	var status string
	if err := row.Scan(&u.URLID, &u.ProjectID, &u.OriginalURL, &status,
		&u.FailureReason, &u.SubmittedAt, &u.LastUpdatedAt); err != nil {
		return URL{}, err
	}
	u.Status = URLStatus(status)
	return u, nil
}
