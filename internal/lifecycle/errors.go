package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrURLNotFound indicates an unknown url_id/project_id pair.
	ErrURLNotFound = errors.New("url not found")

	// ErrProjectNotFound indicates an unknown project.
	ErrProjectNotFound = errors.New("project not found")

	// ErrDuplicateURL indicates the project already has the URL.
	ErrDuplicateURL = errors.New("url already exists in project")

	// ErrInvalidURL indicates a URL that failed normalization.
	ErrInvalidURL = errors.New("invalid url format")

	// ErrInvalidState indicates a transition the state machine forbids.
	ErrInvalidState = errors.New("invalid url status for operation")
)

// DuplicateURLError carries the existing URL's identity so callers can
// surface a conflict with details rather than a bare error.
type DuplicateURLError struct {
	URLID         string
	ProjectID     string
	LastUpdatedAt time.Time
}

func (e *DuplicateURLError) Error() string {
	return fmt.Sprintf("url already exists in project %s as %s", e.ProjectID, e.URLID)
}

func (e *DuplicateURLError) Unwrap() error { return ErrDuplicateURL }

// InvalidStateError reports the status that blocked a transition.
type InvalidStateError struct {
	URLID  string
	Status URLStatus
	Want   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("url %s has status %q, want %s", e.URLID, e.Status, e.Want)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
