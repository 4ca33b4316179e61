package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CreateProjectRequest is the body for POST /projects.
type CreateProjectRequest struct {
	ProjectName string `json:"project_name"`
}

// MessageResponse is a plain acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ProjectName) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_name is required")
	}

	p, err := s.coord.CreateProject(c.Request().Context(), strings.TrimSpace(req.ProjectName))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleDeleteProject(c echo.Context) error {
	if err := s.coord.DeleteProject(c.Request().Context(), c.Param("project_id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Project deleted"})
}
