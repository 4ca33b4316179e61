package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chunkd/internal/embeddings"
	"github.com/fyrsmithlabs/chunkd/internal/lifecycle"
	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/query"
	"github.com/fyrsmithlabs/chunkd/internal/vectorstore"
)

// Error codes returned in response bodies.
const (
	CodeProjectNotFound  = "PROJECT_NOT_FOUND"
	CodeURLNotFound      = "URL_NOT_FOUND"
	CodeDuplicateURL     = "DUPLICATE_URL"
	CodeInvalidURLFormat = "INVALID_URL_FORMAT"
	CodeInvalidURLStatus = "INVALID_URL_STATUS"
	CodeInvalidQuery     = "INVALID_QUERY"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeEmbeddingFailed  = "EMBEDDING_FAILED"
	CodeStorageFailed    = "STORAGE_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message     string       `json:"message"`
	Code        string       `json:"code"`
	ExistingURL *ExistingURL `json:"existing_url,omitempty"`
}

// ExistingURL identifies the conflicting URL in duplicate errors.
type ExistingURL struct {
	URLID         string    `json:"url_id"`
	ProjectID     string    `json:"project_id"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// errorHandler maps domain errors onto {message, code} responses.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := classify(err)
		if status >= http.StatusInternalServerError {
			logger.Error(c.Request().Context(), "request failed",
				zap.String("uri", c.Request().RequestURI),
				zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func classify(err error) (int, ErrorResponse) {
	var dup *lifecycle.DuplicateURLError
	if errors.As(err, &dup) {
		return http.StatusConflict, ErrorResponse{
			Message: "URL already exists in this project",
			Code:    CodeDuplicateURL,
			ExistingURL: &ExistingURL{
				URLID:         dup.URLID,
				ProjectID:     dup.ProjectID,
				LastUpdatedAt: dup.LastUpdatedAt,
			},
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg, ok := httpErr.Message.(string)
		if !ok {
			msg = http.StatusText(httpErr.Code)
		}
		code := CodeInternal
		if httpErr.Code < http.StatusInternalServerError {
			code = CodeInvalidArgument
		}
		return httpErr.Code, ErrorResponse{Message: msg, Code: code}
	}

	switch {
	case errors.Is(err, lifecycle.ErrProjectNotFound):
		return http.StatusNotFound, ErrorResponse{Message: "Project not found", Code: CodeProjectNotFound}
	case errors.Is(err, lifecycle.ErrURLNotFound):
		return http.StatusNotFound, ErrorResponse{Message: "URL not found", Code: CodeURLNotFound}
	case errors.Is(err, lifecycle.ErrInvalidURL):
		return http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: CodeInvalidURLFormat}
	case errors.Is(err, lifecycle.ErrInvalidState):
		return http.StatusConflict, ErrorResponse{Message: err.Error(), Code: CodeInvalidURLStatus}
	case errors.Is(err, query.ErrInvalidQuery):
		return http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: CodeInvalidQuery}
	case errors.Is(err, vectorstore.ErrDimensionMismatch),
		errors.Is(err, vectorstore.ErrInvalidArgument),
		errors.Is(err, vectorstore.ErrEmptyBatch):
		return http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: CodeInvalidArgument}
	case errors.Is(err, query.ErrEmbeddingUnavailable),
		errors.Is(err, embeddings.ErrEmbeddingFailed):
		return http.StatusInternalServerError, ErrorResponse{Message: "Embedding service unavailable", Code: CodeEmbeddingFailed}
	case errors.Is(err, vectorstore.ErrStorageUnavailable):
		return http.StatusInternalServerError, ErrorResponse{Message: "Storage unavailable", Code: CodeStorageFailed}
	default:
		return http.StatusInternalServerError, ErrorResponse{Message: "Internal server error", Code: CodeInternal}
	}
}
