// Package llm holds the clients behind the scoring oracle and the embedding
// generator. All network calls run through a circuit breaker.
package llm

import (
	"context"
	"errors"
)

// TextGenerator is the interface for LLM text completion.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator turns text into a vector.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// ScoreRequest is the input to an importance scoring call.
type ScoreRequest struct {
	Content     string
	MemoryType  string
	KeyEntities []string
}

// ImportanceScorer rates how important a memory is on a 1-10 scale.
// Timeouts and malformed responses are reported as errors.
type ImportanceScorer interface {
	ScoreImportance(ctx context.Context, req ScoreRequest) (float64, error)
}

// ErrMalformedScore is returned when the model's answer contains no usable score.
var ErrMalformedScore = errors.New("malformed importance score")
