// Package httpapi exposes the project, URL, and chunk APIs over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/chunkd/internal/config"
	"github.com/fyrsmithlabs/chunkd/internal/ingest"
	"github.com/fyrsmithlabs/chunkd/internal/lifecycle"
	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/query"
	"github.com/fyrsmithlabs/chunkd/internal/vectorstore"
)

// Server serves the HTTP API.
type Server struct {
	echo   *echo.Echo
	cfg    config.ServerConfig
	logger *logging.Logger

	coord  *lifecycle.Coordinator
	store  *vectorstore.Store
	writer *ingest.Writer
	engine *query.Engine
}

// NewServer wires the API onto an echo instance.
func NewServer(cfg config.ServerConfig, coord *lifecycle.Coordinator, store *vectorstore.Store, writer *ingest.Writer, engine *query.Engine, logger *logging.Logger) (*Server, error) {
	if coord == nil || store == nil || engine == nil {
		return nil, fmt.Errorf("coordinator, store, and engine are required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:  rate.Limit(cfg.RateLimit),
				Burst: cfg.RateBurst,
			},
		)))
	}
	e.Use(requestLogger(logger))
	e.Use(requestMetrics())

	s := &Server{
		echo:   e,
		cfg:    cfg,
		logger: logger.Named("httpapi"),
		coord:  coord,
		store:  store,
		writer: writer,
		engine: engine,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/projects", s.handleCreateProject)
	s.echo.DELETE("/projects/:project_id", s.handleDeleteProject)

	s.echo.POST("/projects/:project_id/urls", s.handleSubmitURL)
	s.echo.POST("/projects/:project_id/urls/batch", s.handleSubmitBatch)
	s.echo.GET("/projects/:project_id/urls", s.handleListURLs)
	s.echo.GET("/projects/:project_id/urls/:url_id", s.handleGetURL)
	s.echo.POST("/projects/:project_id/urls/:url_id/reprocess", s.handleReprocessURL)
	s.echo.DELETE("/projects/:project_id/urls/:url_id", s.handleDeleteURL)

	s.echo.GET("/projects/:project_id/urls/:url_id/chunks", s.handleGetChunks)
	// The colon splits the segment: "chunks" matches literally and the
	// remainder binds to :action, which the handler requires to be ":query".
	s.echo.POST("/projects/:project_id/urls/:url_id/chunks:action", s.handleChunkAction)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}
