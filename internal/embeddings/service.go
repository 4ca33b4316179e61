package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/chunkd/internal/config"
)

// Service is an Embedder backed by a TEI-compatible /embed endpoint.
// It enforces the configured vector dimension on every response.
type Service struct {
	cfg        config.EmbeddingsConfig
	vectorSize int
	client     *http.Client
}

// NewService creates a TEI embedding client. vectorSize is the dimension
// every returned vector must have.
func NewService(cfg config.EmbeddingsConfig, vectorSize int) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		cfg:        cfg,
		vectorSize: vectorSize,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	op := "embed_documents"

	if len(texts) == 0 {
		recordGeneration(s.cfg.Model, op, time.Since(start), ErrEmptyInput)
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err := s.embed(ctx, texts)
	recordGeneration(s.cfg.Model, op, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	op := "embed_query"

	if text == "" {
		recordGeneration(s.cfg.Model, op, time.Since(start), ErrEmptyInput)
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vectors, err := s.embed(ctx, text)
	recordGeneration(s.cfg.Model, op, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return vectors[0], nil
}

// embed posts inputs (a string or []string) to the TEI endpoint and
// validates every returned vector's dimension.
func (s *Service) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey.Value())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}

	for i, v := range vectors {
		if len(v) != s.vectorSize {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d",
				ErrEmbeddingFailed, i, len(v), s.vectorSize)
		}
	}
	return vectors, nil
}
