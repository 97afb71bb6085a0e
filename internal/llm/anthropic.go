package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	Model   string        // default: claude-3-5-haiku-20241022
	BaseURL string        // default: https://api.anthropic.com
	Timeout time.Duration // default: 60s
	Breaker *CircuitBreaker
}

// AnthropicClient implements TextGenerator using the Messages API.
// Anthropic has no embeddings endpoint.
type AnthropicClient struct {
	cfg    AnthropicConfig
	client *http.Client
}

var _ TextGenerator = (*AnthropicClient)(nil)

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// NewAnthropicClient creates a client, applying defaults to zero fields.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-20241022"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker("anthropic")
	}
	return &AnthropicClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Complete sends a single-turn message. Scoring answers are short, so the
// token budget is small.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	return guarded(ctx, c.cfg.Breaker, "anthropic", func() (string, error) {
		req := anthropicRequest{
			Model:     c.cfg.Model,
			MaxTokens: 256,
			Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		}
		headers := map[string]string{
			"x-api-key":         c.cfg.APIKey,
			"anthropic-version": "2023-06-01",
		}

		var resp anthropicResponse
		if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/messages", headers, req, &resp); err != nil {
			return "", fmt.Errorf("anthropic messages: %w", err)
		}
		if len(resp.Content) == 0 {
			return "", fmt.Errorf("anthropic returned empty content")
		}
		return resp.Content[0].Text, nil
	})
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}
