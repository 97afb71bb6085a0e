package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedScorer paces calls to the wrapped scorer.
type RateLimitedScorer struct {
	next    ImportanceScorer
	limiter *rate.Limiter
}

// NewRateLimitedScorer returns next unchanged when perSecond <= 0.
func NewRateLimitedScorer(next ImportanceScorer, perSecond float64, burst int) ImportanceScorer {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedScorer{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// ScoreImportance waits for a token, then delegates.
func (s *RateLimitedScorer) ScoreImportance(ctx context.Context, req ScoreRequest) (float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return s.next.ScoreImportance(ctx, req)
}

// RateLimitedEmbedder paces calls to the wrapped embedding generator.
type RateLimitedEmbedder struct {
	next    EmbeddingGenerator
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder returns next unchanged when perSecond <= 0.
func NewRateLimitedEmbedder(next EmbeddingGenerator, perSecond float64, burst int) EmbeddingGenerator {
	if perSecond <= 0 || next == nil {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Embed waits for a token, then delegates.
func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.next.Embed(ctx, text)
}

// GetModel reports the wrapped model.
func (e *RateLimitedEmbedder) GetModel() string {
	return e.next.GetModel()
}
