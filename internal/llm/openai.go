package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig holds configuration for the OpenAI chat and embedding clients.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // chat default: gpt-4o-mini, embedding default: text-embedding-3-small
	BaseURL string        // default: https://api.openai.com
	Timeout time.Duration // default: 60s
	Breaker *CircuitBreaker
}

func (cfg *OpenAIConfig) applyDefaults(model string) {
	if cfg.Model == "" {
		cfg.Model = model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker("openai")
	}
}

func (cfg *OpenAIConfig) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + cfg.APIKey}
}

// OpenAIClient implements TextGenerator using the chat completions API.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

var _ TextGenerator = (*OpenAIClient)(nil)

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *openAIFormat       `json:"response_format,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient creates a chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	cfg.applyDefaults("gpt-4o-mini")
	return &OpenAIClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Complete sends a single-turn chat request in JSON response mode.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return guarded(ctx, c.cfg.Breaker, "openai", func() (string, error) {
		req := openAIChatRequest{
			Model:          c.cfg.Model,
			Messages:       []openAIChatMessage{{Role: "user", Content: prompt}},
			ResponseFormat: &openAIFormat{Type: "json_object"},
		}

		var resp openAIChatResponse
		if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/chat/completions", c.cfg.headers(), req, &resp); err != nil {
			return "", fmt.Errorf("openai chat: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// OpenAIEmbeddingClient implements EmbeddingGenerator using the embeddings API.
type OpenAIEmbeddingClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

var _ EmbeddingGenerator = (*OpenAIEmbeddingClient)(nil)

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbeddingClient creates an embedding client.
func NewOpenAIEmbeddingClient(cfg OpenAIConfig) *OpenAIEmbeddingClient {
	cfg.applyDefaults("text-embedding-3-small")
	return &OpenAIEmbeddingClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Embed returns the embedding vector for text.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return guarded(ctx, c.cfg.Breaker, "openai", func() ([]float32, error) {
		var resp openAIEmbeddingResponse
		req := openAIEmbeddingRequest{Model: c.cfg.Model, Input: text}
		if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/embeddings", c.cfg.headers(), req, &resp); err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, fmt.Errorf("openai returned empty embedding vector")
		}
		return resp.Data[0].Embedding, nil
	})
}

// GetModel returns the configured model name.
func (c *OpenAIEmbeddingClient) GetModel() string {
	return c.cfg.Model
}
