package storage

import (
	"context"
	"fmt"
)

// schema is the canonical table layout. Chunk embeddings are stored as
// length-prefixed little-endian float32 blobs (see vectorstore encoding).
// ON DELETE CASCADE backs up the explicit ordered deletes done by the
// lifecycle coordinator; the coordinator never relies on it alone because the
// ANN index must be told which chunk IDs disappeared.
const schema = `
CREATE TABLE IF NOT EXISTS projects (
	project_id   TEXT PRIMARY KEY,
	project_name TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS urls (
	url_id          TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL REFERENCES projects(project_id) ON DELETE CASCADE,
	original_url    TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	failure_reason  TEXT,
	submitted_at    TIMESTAMP NOT NULL,
	last_updated_at TIMESTAMP NOT NULL,
	UNIQUE (project_id, original_url)
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT PRIMARY KEY,
	url_id      TEXT NOT NULL REFERENCES urls(url_id) ON DELETE CASCADE,
	project_id  TEXT NOT NULL,
	content     TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	embedding   BLOB NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	UNIQUE (url_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_urls_project_id ON urls(project_id);
CREATE INDEX IF NOT EXISTS idx_chunks_url_id ON chunks(url_id);
CREATE INDEX IF NOT EXISTS idx_chunks_project_id ON chunks(project_id);
`

// migrate creates the tables if they don't exist.
func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.sql.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}
