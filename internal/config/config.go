// Package config provides configuration loading for chunkd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. See LoadWithFile for precedence and security rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Supported distance metrics for the vector store.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
)

// Config holds the complete chunkd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimit       float64       `koanf:"rate_limit"`
	RateBurst       int           `koanf:"rate_burst"`
}

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	// Path is the SQLite database file. The chunk table in this file is the
	// canonical source of truth; the ANN index is rebuilt from it at startup.
	Path string `koanf:"path"`

	// VectorSize is the fixed embedding dimension D for the deployment.
	VectorSize int `koanf:"vector_size"`

	// Metric is the distance metric, fixed per deployment: "cosine" or "l2".
	Metric string `koanf:"metric"`

	// ExactSearchThreshold is the per-URL chunk count at or below which search
	// uses exact brute-force scoring instead of the ANN index.
	ExactSearchThreshold int `koanf:"exact_search_threshold"`

	// HNSW graph parameters.
	HNSWM              int `koanf:"hnsw_m"`
	HNSWEfConstruction int `koanf:"hnsw_ef_construction"`
	HNSWEfSearch       int `koanf:"hnsw_ef_search"`

	// CompactionInterval controls how often the background compactor checks
	// whether the ANN index should be rebuilt. Zero disables compaction.
	CompactionInterval time.Duration `koanf:"compaction_interval"`
}

// EmbeddingsConfig holds the embedding provider configuration.
type EmbeddingsConfig struct {
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 50
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 100
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/chunkd/chunkd.db"
	}
	if cfg.Store.VectorSize == 0 {
		cfg.Store.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.Store.Metric == "" {
		cfg.Store.Metric = MetricCosine
	}
	if cfg.Store.ExactSearchThreshold == 0 {
		cfg.Store.ExactSearchThreshold = 256
	}
	if cfg.Store.HNSWM == 0 {
		cfg.Store.HNSWM = 16
	}
	if cfg.Store.HNSWEfConstruction == 0 {
		cfg.Store.HNSWEfConstruction = 200
	}
	if cfg.Store.HNSWEfSearch == 0 {
		cfg.Store.HNSWEfSearch = 64
	}
	if cfg.Store.CompactionInterval == 0 {
		cfg.Store.CompactionInterval = 5 * time.Minute
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "chunkd"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be in [1, 65535], got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit cannot be negative"))
	}

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store path is required"))
	}
	if c.Store.VectorSize <= 0 {
		errs = append(errs, fmt.Errorf("vector size must be positive, got %d", c.Store.VectorSize))
	}
	if c.Store.Metric != MetricCosine && c.Store.Metric != MetricL2 {
		errs = append(errs, fmt.Errorf("metric must be %q or %q, got %q", MetricCosine, MetricL2, c.Store.Metric))
	}
	if c.Store.ExactSearchThreshold < 0 {
		errs = append(errs, fmt.Errorf("exact search threshold cannot be negative"))
	}
	if c.Store.HNSWM <= 0 || c.Store.HNSWEfConstruction <= 0 || c.Store.HNSWEfSearch <= 0 {
		errs = append(errs, fmt.Errorf("hnsw parameters must be positive"))
	}

	if c.Embeddings.BaseURL == "" {
		errs = append(errs, fmt.Errorf("embeddings base URL is required"))
	}
	if c.Embeddings.Timeout.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("embeddings timeout must be positive"))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
