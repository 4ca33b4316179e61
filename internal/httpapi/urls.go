package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/chunkd/internal/lifecycle"
)

// SubmitURLRequest is the body for POST /projects/:project_id/urls.
type SubmitURLRequest struct {
	URL string `json:"url"`
}

// SubmitBatchRequest is the body for POST /projects/:project_id/urls/batch.
type SubmitBatchRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) handleSubmitURL(c echo.Context) error {
	var req SubmitURLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	u, err := s.coord.Submit(c.Request().Context(), c.Param("project_id"), req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (s *Server) handleSubmitBatch(c echo.Context) error {
	var req SubmitBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.URLs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "urls is required")
	}

	result, err := s.coord.SubmitBatch(c.Request().Context(), c.Param("project_id"), req.URLs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleListURLs(c echo.Context) error {
	status := lifecycle.URLStatus(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status filter")
	}
	urls, err := s.coord.List(c.Request().Context(), c.Param("project_id"), status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, urls)
}

func (s *Server) handleGetURL(c echo.Context) error {
	u, err := s.coord.Get(c.Request().Context(), c.Param("project_id"), c.Param("url_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) handleReprocessURL(c echo.Context) error {
	u, err := s.coord.Reprocess(c.Request().Context(), c.Param("project_id"), c.Param("url_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) handleDeleteURL(c echo.Context) error {
	if err := s.coord.Delete(c.Request().Context(), c.Param("project_id"), c.Param("url_id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "URL deleted"})
}
