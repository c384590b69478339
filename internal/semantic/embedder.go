package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEmbeddingBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultEmbeddingModel   = "text-embedding-004"

	embeddingRequestTimeout = 30 * time.Second
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config controls embedder construction.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewEmbedder returns an API-backed embedder when a key is configured,
// otherwise the deterministic mock.
func NewEmbedder(cfg Config) Embedder {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewMockEmbedder()
	}
	return NewAPIEmbedder(cfg)
}

// APIEmbedder calls an OpenAI-compatible embeddings endpoint.
type APIEmbedder struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewAPIEmbedder(cfg Config) *APIEmbedder {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultEmbeddingBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &APIEmbedder{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: embeddingRequestTimeout},
	}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *APIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embeddingsRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("embeddings status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embeddings error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings response carried no vector")
	}
	return parsed.Data[0].Embedding, nil
}
