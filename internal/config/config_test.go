package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 384, cfg.Store.VectorSize)
	assert.Equal(t, MetricCosine, cfg.Store.Metric)
	assert.Equal(t, 256, cfg.Store.ExactSearchThreshold)
	assert.Equal(t, 16, cfg.Store.HNSWM)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model)
	assert.Equal(t, "chunkd", cfg.Observability.ServiceName)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server port",
		},
		{
			name:    "zero vector size",
			mutate:  func(c *Config) { c.Store.VectorSize = 0 },
			wantErr: "vector size",
		},
		{
			name:    "unknown metric",
			mutate:  func(c *Config) { c.Store.Metric = "manhattan" },
			wantErr: "metric",
		},
		{
			name:    "negative exact search threshold",
			mutate:  func(c *Config) { c.Store.ExactSearchThreshold = -1 },
			wantErr: "exact search threshold",
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store path",
		},
		{
			name:    "bad logging format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging format",
		},
		{
			name:    "zero hnsw m",
			mutate:  func(c *Config) { c.Store.HNSWM = 0 },
			wantErr: "hnsw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SERVER_HTTP_PORT", "7070")
	t.Setenv("STORE_VECTOR_SIZE", "1536")
	t.Setenv("STORE_METRIC", "l2")
	t.Setenv("EMBEDDINGS_BASE_URL", "http://tei:8080")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 1536, cfg.Store.VectorSize)
	assert.Equal(t, MetricL2, cfg.Store.Metric)
	assert.Equal(t, "http://tei:8080", cfg.Embeddings.BaseURL)
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret-key")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "super-secret-key", s.Value())
	assert.True(t, s.IsSet())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret-key")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
