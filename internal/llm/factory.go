package llm

import (
	"fmt"

	"github.com/scrypster/mnemo/internal/config"
)

// NewTextGenerator creates the TextGenerator for the configured provider.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.LLMProvider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.AnthropicModel}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.OllamaModel, JSONMode: true}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.LLMProvider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for the configured
// provider, paced by the oracle rate. Returns (nil, nil) for "none".
func NewEmbeddingGenerator(cfg config.LLMConfig) (EmbeddingGenerator, error) {
	var emb EmbeddingGenerator
	switch cfg.EmbeddingProvider {
	case "openai":
		emb = NewOpenAIEmbeddingClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIEmbeddingModel})
	case "ollama", "":
		model := cfg.OllamaEmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		emb = NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: model})
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.EmbeddingProvider)
	}
	return NewRateLimitedEmbedder(emb, cfg.OracleRatePerSecond, cfg.OracleBurst), nil
}

// NewImportanceScorer builds the scoring oracle: the configured text
// generator with a per-call timeout, paced by the configured rate.
func NewImportanceScorer(cfg config.LLMConfig) (ImportanceScorer, error) {
	gen, err := NewTextGenerator(cfg)
	if err != nil {
		return nil, err
	}
	scorer := NewLLMImportanceScorer(gen, cfg.OracleTimeout)
	return NewRateLimitedScorer(scorer, cfg.OracleRatePerSecond, cfg.OracleBurst), nil
}
