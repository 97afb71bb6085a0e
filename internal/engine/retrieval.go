package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

const (
	// semanticPoolSize is how many embedded candidates are ranked per query.
	semanticPoolSize = 100

	// fallbackPoolSize is how many active memories the fallback path ranks.
	fallbackPoolSize = 200

	similarityWeight = 0.7
	importanceWeight = 0.3

	defaultRetrievalLimit = 10
)

// RetrieveRelevant ranks active memories against query and returns the top
// limit. When the query embeds and embedded candidates exist, ranking blends
// cosine similarity with effective importance; otherwise memories sharing
// query terms rank first, then by importance and access count. Every returned
// memory counts as accessed.
func (e *MemoryEngine) RetrieveRelevant(ctx context.Context, query string, limit int) ([]RetrievalResult, error) {
	if limit <= 0 {
		limit = defaultRetrievalLimit
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.retrieve")
	defer span.End()

	now := e.now()

	results, err := e.semanticResults(ctx, query, now)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		results, err = e.fallbackResults(ctx, query, now)
		if err != nil {
			return nil, err
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}

	e.touchResults(ctx, results, now)
	return results, nil
}

// semanticResults returns nil when no embedding-based ranking is possible.
func (e *MemoryEngine) semanticResults(ctx context.Context, query string, now time.Time) ([]RetrievalResult, error) {
	if e.embedder == nil || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.obs.Log().Warn().Err(err).Msg("query embedding failed, using fallback ranking")
		return nil, nil
	}

	candidates, err := e.memoryStore.SelectWhere(ctx, storage.Query{
		Where: storage.Predicate{
			IsActive:     storage.Ptr(true),
			HasEmbedding: storage.Ptr(true),
		},
		OrderBy: storage.OrderByImportanceDesc,
		Limit:   semanticPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve: select embedded candidates: %w", err)
	}

	results := make([]RetrievalResult, 0, len(candidates))
	for _, rec := range candidates {
		if len(rec.Embedding) != len(queryVec) {
			continue
		}
		sim := cosineSimilarity(queryVec, rec.Embedding)
		importance := EffectiveScore(rec, now).Score
		results = append(results, RetrievalResult{
			Memory:     rec,
			Similarity: sim,
			Importance: importance,
			RankScore:  sim*similarityWeight + (importance/types.MaxImportanceScore)*importanceWeight,
			Semantic:   true,
		})
	}

	slices.SortStableFunc(results, func(a, b RetrievalResult) int {
		return compareDesc(a.RankScore, b.RankScore)
	})
	return results, nil
}

// fallbackResults ranks by query term overlap, then effective importance,
// then access count.
func (e *MemoryEngine) fallbackResults(ctx context.Context, query string, now time.Time) ([]RetrievalResult, error) {
	candidates, err := e.memoryStore.SelectWhere(ctx, storage.Query{
		Where:   storage.Predicate{IsActive: storage.Ptr(true)},
		OrderBy: storage.OrderByImportanceAccessDesc,
		Limit:   fallbackPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve: select fallback candidates: %w", err)
	}

	terms := queryTerms(query)
	overlap := make(map[int64]int, len(candidates))
	results := make([]RetrievalResult, 0, len(candidates))
	for _, rec := range candidates {
		overlap[rec.ID] = termOverlap(rec.Content, terms)
		importance := EffectiveScore(rec, now).Score
		results = append(results, RetrievalResult{
			Memory:     rec,
			Importance: importance,
			RankScore:  importance / types.MaxImportanceScore,
		})
	}

	slices.SortStableFunc(results, func(a, b RetrievalResult) int {
		if c := overlap[b.Memory.ID] - overlap[a.Memory.ID]; c != 0 {
			return c
		}
		if c := compareDesc(a.Importance, b.Importance); c != 0 {
			return c
		}
		return b.Memory.AccessCount - a.Memory.AccessCount
	})
	return results, nil
}

// touchResults records the retrieval as a usage signal. A failure is logged:
// the caller still gets the results.
func (e *MemoryEngine) touchResults(ctx context.Context, results []RetrievalResult, now time.Time) {
	if len(results) == 0 {
		return
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}

	if err := e.memoryStore.TouchAccessed(ctx, ids, now); err != nil {
		e.obs.Log().Warn().Err(err).Int("count", len(ids)).Msg("failed to record memory access")
		return
	}

	for _, r := range results {
		r.Memory.AccessCount++
		r.Memory.LastAccessedAt = &now
	}
}

func compareDesc(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

// cosineSimilarity computes cosine similarity between two equal-length vectors.
// Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// stopWords carry no discriminative value for keyword matching.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true, "about": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "me": true, "my": true, "you": true, "your": true, "it": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// queryTerms returns the distinct non-stop-word terms of query.
func queryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range tokenize(query) {
		if len(w) < 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// termOverlap counts how many terms occur as words in content.
func termOverlap(content string, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	words := make(map[string]bool)
	for _, w := range tokenize(content) {
		words[w] = true
	}
	n := 0
	for _, t := range terms {
		if words[t] {
			n++
		}
	}
	return n
}
