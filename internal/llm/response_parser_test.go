package llm

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantJSON string
	}{
		{
			name:     "plain JSON object",
			input:    `{"score": 7}`,
			wantJSON: `{"score": 7}`,
		},
		{
			name:     "JSON with markdown code block",
			input:    "```json\n{\"score\": 7}\n```",
			wantJSON: `{"score": 7}`,
		},
		{
			name:     "JSON with surrounding text",
			input:    "Sure! Here you go:\n{\"score\": 7}\nHope that helps",
			wantJSON: `{"score": 7}`,
		},
		{
			name:     "brace inside string",
			input:    `{"reason": "uses {braces}", "score": 3} trailing`,
			wantJSON: `{"reason": "uses {braces}", "score": 3}`,
		},
		{
			name:     "escaped quote inside string",
			input:    `{"reason": "said \"hi\"", "score": 2}`,
			wantJSON: `{"reason": "said \"hi\"", "score": 2}`,
		},
		{
			name:     "no JSON present",
			input:    "eight",
			wantJSON: "eight",
		},
		{
			name:     "unterminated object",
			input:    `{"score": 7`,
			wantJSON: `{"score": 7`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.input); got != tt.wantJSON {
				t.Errorf("extractJSON() = %q, want %q", got, tt.wantJSON)
			}
		})
	}
}

func TestParseImportanceResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{name: "integer score", input: `{"score": 8, "reason": "health"}`, want: 8},
		{name: "fractional score", input: `{"score": 6.5}`, want: 6.5},
		{name: "lower bound", input: `{"score": 1}`, want: 1},
		{name: "upper bound", input: `{"score": 10}`, want: 10},
		{name: "wrapped in prose", input: "Score:\n```json\n{\"score\": 9}\n```", want: 9},
		{name: "above range", input: `{"score": 11}`, wantErr: true},
		{name: "below range", input: `{"score": 0}`, wantErr: true},
		{name: "missing score", input: `{"reason": "no idea"}`, wantErr: true},
		{name: "string score", input: `{"score": "7"}`, wantErr: true},
		{name: "not json", input: "I would say seven", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseImportanceResponse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedScore) {
					t.Fatalf("expected ErrMalformedScore, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestImportancePrompt(t *testing.T) {
	prompt := ImportancePrompt(ScoreRequest{
		Content:     "I am allergic to peanuts",
		MemoryType:  "health",
		KeyEntities: []string{"peanuts"},
	})

	for _, want := range []string{"I am allergic to peanuts", "Memory type: health", "Key entities: peanuts", `{"score":`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if p := ImportancePrompt(ScoreRequest{Content: "x"}); !strings.Contains(p, "Key entities: none") || !strings.Contains(p, "Memory type: contextual") {
		t.Error("expected defaults for empty type and entities")
	}
}
