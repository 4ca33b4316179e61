// Package lifecycle tracks projects and the per-URL processing state
// machine, and governs when chunks may be written, replaced, or purged.
package lifecycle

import "time"

// URLStatus is a URL's position in the processing pipeline.
type URLStatus string

const (
	StatusPending  URLStatus = "pending"
	StatusCrawling URLStatus = "crawling"
	StatusEncoding URLStatus = "encoding"
	StatusStored   URLStatus = "stored"
	StatusFailed   URLStatus = "failed"
)

// Valid reports whether s is a known status.
func (s URLStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCrawling, StatusEncoding, StatusStored, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s admits no pipeline transition other than an
// explicit reprocess.
func (s URLStatus) Terminal() bool {
	return s == StatusStored || s == StatusFailed
}

// Project is a tenant boundary: URLs and chunks never cross projects.
type Project struct {
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// URL is a submitted page and its processing state.
type URL struct {
	URLID         string    `json:"url_id"`
	ProjectID     string    `json:"project_id"`
	OriginalURL   string    `json:"original_url"`
	Status        URLStatus `json:"status"`
	FailureReason *string   `json:"failure_reason"`
	SubmittedAt   time.Time `json:"submitted_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// URLRef identifies an existing URL in duplicate reports and listings.
type URLRef struct {
	URLID         string    `json:"url_id"`
	ProjectID     string    `json:"project_id"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// BatchResult is the outcome of a batch submission: URLs created and URLs
// that already existed.
type BatchResult struct {
	SubmittedURLs []URL    `json:"submitted_urls"`
	DuplicateURLs []URLRef `json:"duplicate_urls"`
}
