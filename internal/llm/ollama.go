package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL defaults to http://localhost:11434.
	BaseURL string

	// Model is used for completions or embeddings depending on how the
	// client is used.
	Model string

	// Timeout bounds each HTTP request (default 30s).
	Timeout time.Duration

	// JSONMode asks the server to constrain output to valid JSON.
	JSONMode bool

	// Breaker overrides the default circuit breaker.
	Breaker *CircuitBreaker
}

// OllamaClient talks to a local Ollama server for completions and embeddings.
type OllamaClient struct {
	baseURL  string
	model    string
	jsonMode bool
	client   *http.Client
	breaker  *CircuitBreaker
}

var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
)

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResponse carries one vector per input; we send exactly one.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates an Ollama client, applying defaults to zero fields.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker("ollama")
	}

	return &OllamaClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		jsonMode: cfg.JSONMode,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  cfg.Breaker,
	}
}

// Complete sends a non-streaming generate request.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	return guarded(ctx, c.breaker, "ollama", func() (string, error) {
		req := ollamaGenerateRequest{Model: c.model, Prompt: prompt}
		if c.jsonMode {
			req.Format = "json"
		}

		var resp ollamaGenerateResponse
		if err := postJSON(ctx, c.client, c.baseURL+"/api/generate", nil, req, &resp); err != nil {
			return "", fmt.Errorf("ollama generate: %w", err)
		}
		return resp.Response, nil
	})
}

// Embed returns the embedding vector for text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return guarded(ctx, c.breaker, "ollama", func() ([]float32, error) {
		var resp ollamaEmbedResponse
		if err := postJSON(ctx, c.client, c.baseURL+"/api/embed", nil, ollamaEmbedRequest{Model: c.model, Input: text}, &resp); err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
			return nil, fmt.Errorf("ollama returned empty embedding vector")
		}
		return resp.Embeddings[0], nil
	})
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}
