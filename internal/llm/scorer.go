package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/covermap/backend/internal/mapping"
	"github.com/covermap/backend/internal/storage/models"
)

const maxContentChars = 24000

const scoreSystemPrompt = `You are a compliance analyst. Rate how well an internal policy document covers a single regulatory control.

Score 0-100:
- 0-20: the document does not address the control
- 21-59: the document touches the topic but does not satisfy the requirement
- 60-79: the document partially satisfies the requirement
- 80-100: the document clearly satisfies the requirement

Return ONLY a JSON object:
{"score": 72, "rationale": "one or two sentences citing the relevant passage"}`

// Scorer scores a document against one control with a chat completion.
// It satisfies the engine's Scorer contract; transport failures surface as
// ErrScoringUnavailable so the run charges its failure budget.
type Scorer struct {
	client *Client
}

func NewScorer(client *Client) *Scorer {
	return &Scorer{client: client}
}

func (s *Scorer) Score(ctx context.Context, documentContent string, control models.Control) (mapping.ScoreResult, error) {
	content := documentContent
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	userPrompt := fmt.Sprintf(`Control %s: %s
%s

Document:
%s

Return JSON only.`, control.Code, control.Title, control.Description, content)

	raw, err := s.client.Complete(ctx, CompletionRequest{
		SystemPrompt: scoreSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    300,
	})

	if err != nil {
		return mapping.ScoreResult{}, fmt.Errorf("%w: %v", mapping.ErrScoringUnavailable, err)
	}

	result, err := parseScoreResult(raw)
	if err != nil {
		return mapping.ScoreResult{}, fmt.Errorf("%w: %v", mapping.ErrScoringUnavailable, err)
	}

	return result, nil
}

type scorePayload struct {
	Score     *int   `json:"score"`
	Rationale string `json:"rationale"`
}

func parseScoreResult(raw string) (mapping.ScoreResult, error) {
	jsonText := extractJSONObject(raw)
	if jsonText == "" {
		return mapping.ScoreResult{}, fmt.Errorf("no JSON object in scorer response")
	}

	var payload scorePayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return mapping.ScoreResult{}, fmt.Errorf("failed to parse scorer response: %w", err)
	}
	if payload.Score == nil {
		return mapping.ScoreResult{}, fmt.Errorf("scorer response missing score")
	}

	score := *payload.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return mapping.ScoreResult{
		Score:     score,
		Rationale: strings.TrimSpace(payload.Rationale),
	}, nil
}

// extractJSONObject pulls the first balanced JSON object out of a response
// that may be wrapped in prose or a fenced code block.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}

	return ""
}
