package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/chunkd/internal/query"
	"github.com/fyrsmithlabs/chunkd/internal/vectorstore"
)

// ChunkResponse is one chunk in GET chunk listings. Embedding is present
// only when include_vectors=true.
type ChunkResponse struct {
	ChunkID    string    `json:"chunk_id"`
	URLID      string    `json:"url_id"`
	ProjectID  string    `json:"project_id"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunk_index"`
	CreatedAt  time.Time `json:"created_at"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// ChunkQueryRequest is the body for POST .../chunks:query.
type ChunkQueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// ChunkQueryResult is one similarity hit.
type ChunkQueryResult struct {
	ChunkID         string    `json:"chunk_id"`
	Content         string    `json:"content"`
	SimilarityScore float64   `json:"similarity_score"`
	ChunkIndex      int       `json:"chunk_index"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChunkQueryResponse is the body for POST .../chunks:query.
type ChunkQueryResponse struct {
	Results []ChunkQueryResult `json:"results"`
}

func (s *Server) handleGetChunks(c echo.Context) error {
	ctx := c.Request().Context()
	projectID, urlID := c.Param("project_id"), c.Param("url_id")

	// The URL must exist in the project before its chunks are served.
	if _, err := s.coord.Get(ctx, projectID, urlID); err != nil {
		return err
	}

	includeVectors := false
	if raw := c.QueryParam("include_vectors"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "include_vectors must be a boolean")
		}
		includeVectors = v
	}

	chunks, err := s.store.GetByURL(ctx, urlID, projectID)
	if err != nil {
		return err
	}

	out := make([]ChunkResponse, len(chunks))
	for i, chunk := range chunks {
		out[i] = toChunkResponse(chunk, includeVectors)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleChunkAction(c echo.Context) error {
	if c.Param("action") != ":query" {
		return echo.NewHTTPError(http.StatusNotFound, "unknown chunk action")
	}

	ctx := c.Request().Context()
	projectID, urlID := c.Param("project_id"), c.Param("url_id")

	if _, err := s.coord.Get(ctx, projectID, urlID); err != nil {
		return err
	}

	var req ChunkQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	results, err := s.engine.Query(ctx, query.Request{
		ProjectID: projectID,
		URLID:     urlID,
		Query:     req.Query,
		TopK:      req.TopK,
	})
	if err != nil {
		return err
	}

	out := ChunkQueryResponse{Results: make([]ChunkQueryResult, len(results))}
	for i, r := range results {
		out.Results[i] = ChunkQueryResult{
			ChunkID:         r.ChunkID,
			Content:         r.Content,
			SimilarityScore: r.SimilarityScore,
			ChunkIndex:      r.ChunkIndex,
			CreatedAt:       r.CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func toChunkResponse(chunk vectorstore.Chunk, includeVectors bool) ChunkResponse {
	resp := ChunkResponse{
		ChunkID:    chunk.ChunkID,
		URLID:      chunk.URLID,
		ProjectID:  chunk.ProjectID,
		Content:    chunk.Content,
		ChunkIndex: chunk.ChunkIndex,
		CreatedAt:  chunk.CreatedAt,
	}
	if includeVectors {
		resp.Embedding = chunk.Embedding
	}
	return resp
}
