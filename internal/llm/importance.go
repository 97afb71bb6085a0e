package llm

import (
	"context"
	"fmt"
	"time"
)

// LLMImportanceScorer implements ImportanceScorer on top of a TextGenerator.
type LLMImportanceScorer struct {
	gen     TextGenerator
	timeout time.Duration
}

var _ ImportanceScorer = (*LLMImportanceScorer)(nil)

// NewLLMImportanceScorer wraps gen. A zero timeout leaves the caller's
// deadline in charge.
func NewLLMImportanceScorer(gen TextGenerator, timeout time.Duration) *LLMImportanceScorer {
	return &LLMImportanceScorer{gen: gen, timeout: timeout}
}

// ScoreImportance asks the model for a 1-10 score.
func (s *LLMImportanceScorer) ScoreImportance(ctx context.Context, req ScoreRequest) (float64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reply, err := s.gen.Complete(ctx, ImportancePrompt(req))
	if err != nil {
		return 0, fmt.Errorf("importance oracle (%s): %w", s.gen.GetModel(), err)
	}
	return ParseImportanceResponse(reply)
}
