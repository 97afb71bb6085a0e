package llm

import (
	"fmt"
	"strings"
)

// ImportancePrompt generates a strict JSON-only prompt asking the model to
// rate how important a memory is to remember long term.
func ImportancePrompt(req ScoreRequest) string {
	entities := "none"
	if len(req.KeyEntities) > 0 {
		entities = strings.Join(req.KeyEntities, ", ")
	}
	memoryType := req.MemoryType
	if memoryType == "" {
		memoryType = "contextual"
	}

	return fmt.Sprintf(`Rate memory importance. Return ONLY valid JSON, no markdown, no code blocks, no explanation.

Score from 1 to 10 how important this memory is to remember about the user long term:
- 9-10: identity, health, safety, core relationships
- 7-8: lasting preferences, goals, significant decisions
- 4-6: useful context, ongoing projects
- 1-3: small talk, transient details

Memory type: %s
Key entities: %s

Memory:
%s

Return ONLY JSON object, nothing else, no markdown:
{"score":7,"reason":"..."}`, memoryType, entities, req.Content)
}
