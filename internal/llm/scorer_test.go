package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScoreResult(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantScore     int
		wantRationale string
		wantErr       bool
	}{
		{
			name:          "plain json",
			raw:           `{"score": 72, "rationale": "section 3 covers retention"}`,
			wantScore:     72,
			wantRationale: "section 3 covers retention",
		},
		{
			name:          "fenced code block",
			raw:           "```json\n{\"score\": 85, \"rationale\": \"explicit match\"}\n```",
			wantScore:     85,
			wantRationale: "explicit match",
		},
		{
			name:          "surrounding prose",
			raw:           `Here is my assessment: {"score": 40, "rationale": "topic only"} hope that helps`,
			wantScore:     40,
			wantRationale: "topic only",
		},
		{
			name:      "score above range is clamped",
			raw:       `{"score": 150, "rationale": "x"}`,
			wantScore: 100,
		},
		{
			name:      "negative score is clamped",
			raw:       `{"score": -5, "rationale": "x"}`,
			wantScore: 0,
		},
		{
			name:          "rationale whitespace is trimmed",
			raw:           `{"score": 60, "rationale": "  padded  "}`,
			wantScore:     60,
			wantRationale: "padded",
		},
		{
			name:      "zero score is valid",
			raw:       `{"score": 0, "rationale": "no coverage"}`,
			wantScore: 0,
		},
		{
			name:    "missing score",
			raw:     `{"rationale": "no number"}`,
			wantErr: true,
		},
		{
			name:    "no json at all",
			raw:     "I cannot score this document.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"score": seventy}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseScoreResult(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, result.Score)
			if tt.wantRationale != "" {
				assert.Equal(t, tt.wantRationale, result.Rationale)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "nested object",
			raw:  `{"a": {"b": 1}} trailing`,
			want: `{"a": {"b": 1}}`,
		},
		{
			name: "braces inside strings are ignored",
			raw:  `{"rationale": "uses {curly} notation", "score": 5}`,
			want: `{"rationale": "uses {curly} notation", "score": 5}`,
		},
		{
			name: "escaped quote inside string",
			raw:  `{"rationale": "says \"done\"", "score": 5}`,
			want: `{"rationale": "says \"done\"", "score": 5}`,
		},
		{
			name: "unbalanced object",
			raw:  `{"score": 1`,
			want: "",
		},
		{
			name: "no object",
			raw:  "plain text",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.raw))
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}), "mismatched lengths")
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero vector")
}

func TestSimilarityToScore(t *testing.T) {
	assert.Equal(t, 0, similarityToScore(-0.4))
	assert.Equal(t, 0, similarityToScore(0))
	assert.Equal(t, 50, similarityToScore(0.5))
	assert.Equal(t, 73, similarityToScore(0.726))
	assert.Equal(t, 100, similarityToScore(1))
	assert.Equal(t, 100, similarityToScore(1.2))
}
