// Chunkd is a multi-tenant vector chunk store for web content.
//
// This binary starts the chunkd HTTP server: SQLite-backed chunk storage, an
// in-memory ANN index rebuilt at startup, URL lifecycle management, and the
// top-K similarity query endpoint.
//
// Configuration is loaded from ~/.config/chunkd/config.yaml and overridden by
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	chunkd serve
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9191 STORE_VECTOR_SIZE=768 chunkd serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/chunkd/internal/config"
	"github.com/fyrsmithlabs/chunkd/internal/embeddings"
	"github.com/fyrsmithlabs/chunkd/internal/httpapi"
	"github.com/fyrsmithlabs/chunkd/internal/ingest"
	"github.com/fyrsmithlabs/chunkd/internal/lifecycle"
	"github.com/fyrsmithlabs/chunkd/internal/logging"
	"github.com/fyrsmithlabs/chunkd/internal/query"
	"github.com/fyrsmithlabs/chunkd/internal/storage"
	"github.com/fyrsmithlabs/chunkd/internal/telemetry"
	"github.com/fyrsmithlabs/chunkd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chunkd",
	Short: "Vector chunk store and similarity query server",
	Long: `chunkd stores embedded web-content chunks per project and URL, and serves
top-K similarity queries over them through an HTTP API.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chunkd HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chunkd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/chunkd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// run starts the chunkd server and blocks until the context is cancelled.
//
// Initialization order: configuration, logger, telemetry, storage, vector
// store (which rebuilds the ANN index from SQLite), embeddings client,
// lifecycle coordinator, ingest writer, query engine, HTTP server. Shutdown
// reverses it, bounded by the configured shutdown timeout.
func run(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting chunkd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_path", cfg.Store.Path),
		zap.Int("vector_size", cfg.Store.VectorSize),
		zap.String("metric", cfg.Store.Metric))

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:     cfg.Observability.EnableTelemetry,
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	db, err := storage.Open(ctx, cfg.Store.Path, logger.Underlying())
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer db.Close()

	metric, err := vectorstore.ParseMetric(cfg.Store.Metric)
	if err != nil {
		return fmt.Errorf("parsing metric: %w", err)
	}
	store, err := vectorstore.New(ctx, db, vectorstore.Options{
		VectorSize:           cfg.Store.VectorSize,
		Metric:               metric,
		ExactSearchThreshold: cfg.Store.ExactSearchThreshold,
		HNSWM:                cfg.Store.HNSWM,
		HNSWEfConstruction:   cfg.Store.HNSWEfConstruction,
		HNSWEfSearch:         cfg.Store.HNSWEfSearch,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	store.StartCompaction(ctx, cfg.Store.CompactionInterval)

	embedder, err := embeddings.NewService(cfg.Embeddings, cfg.Store.VectorSize)
	if err != nil {
		return fmt.Errorf("initializing embeddings client: %w", err)
	}

	coord := lifecycle.NewCoordinator(db, store, logger)
	writer := ingest.NewWriter(db, store, coord, logger)
	engine := query.NewEngine(store, embedder, logger)

	srv, err := httpapi.NewServer(cfg.Server, coord, store, writer, engine, logger)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info(context.Background(), "shutdown complete")
	return nil
}

// newLogger builds the structured logger from the flat logging section.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	lcfg := logging.NewDefaultConfig()
	lcfg.Level = level
	lcfg.Format = cfg.Format
	return logging.NewLogger(lcfg)
}
