package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ImportanceResponse is the JSON object returned for an importance prompt.
type ImportanceResponse struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason,omitempty"`
}

// extractJSON extracts the first complete JSON object from a string that may
// contain extra text around it.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return text
}

// ParseImportanceResponse extracts the score from a model reply. Replies
// without a numeric score in [1, 10] yield ErrMalformedScore.
func ParseImportanceResponse(text string) (float64, error) {
	var resp ImportanceResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedScore, err)
	}
	if resp.Score == nil {
		return 0, fmt.Errorf("%w: missing score", ErrMalformedScore)
	}

	score := *resp.Score
	if math.IsNaN(score) || score < 1 || score > 10 {
		return 0, fmt.Errorf("%w: score %v out of range", ErrMalformedScore, score)
	}
	return score, nil
}
