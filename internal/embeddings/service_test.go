package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chunkd/internal/config"
)

func newTEIServer(t *testing.T, dim int, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			var req teiRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			var count int
			switch inputs := req.Inputs.(type) {
			case string:
				count = 1
			case []interface{}:
				count = len(inputs)
			}
			vectors := make([][]float32, count)
			for i := range vectors {
				vectors[i] = make([]float32, dim)
				vectors[i][0] = float32(i + 1)
			}
			require.NoError(t, json.NewEncoder(w).Encode(vectors))
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.EmbeddingsConfig {
	return config.EmbeddingsConfig{
		BaseURL: baseURL,
		Model:   "BAAI/bge-small-en-v1.5",
		Timeout: config.Duration(5 * time.Second),
	}
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(config.EmbeddingsConfig{}, 384)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(testConfig("http://localhost:8080"), 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEmbedQuery(t *testing.T) {
	srv := newTEIServer(t, 4, nil)
	s, err := NewService(testConfig(srv.URL), 4)
	require.NoError(t, err)

	vec, err := s.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestEmbedQueryEmpty(t *testing.T) {
	s, err := NewService(testConfig("http://localhost:1"), 4)
	require.NoError(t, err)

	_, err = s.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocuments(t *testing.T) {
	srv := newTEIServer(t, 4, nil)
	s, err := NewService(testConfig(srv.URL), 4)
	require.NoError(t, err)

	vectors, err := s.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

func TestEmbedDocumentsEmpty(t *testing.T) {
	s, err := NewService(testConfig("http://localhost:1"), 4)
	require.NoError(t, err)

	_, err = s.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDimensionEnforced(t *testing.T) {
	srv := newTEIServer(t, 3, nil)
	s, err := NewService(testConfig(srv.URL), 4)
	require.NoError(t, err)

	_, err = s.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestEmbedServerError(t *testing.T) {
	srv := newTEIServer(t, 4, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})
	s, err := NewService(testConfig(srv.URL), 4)
	require.NoError(t, err)

	_, err = s.EmbedQuery(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestEmbedSendsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := newTEIServer(t, 4, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([][]float32{{0, 0, 0, 0}})
	})

	cfg := testConfig(srv.URL)
	cfg.APIKey = config.Secret("sk-test")
	s, err := NewService(cfg, 4)
	require.NoError(t, err)

	_, err = s.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}
