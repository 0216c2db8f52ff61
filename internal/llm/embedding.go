package llm

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/covermap/backend/internal/mapping"
	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/pkg/utils"
)

// EmbeddingScorer scores by cosine similarity between the document and
// control embeddings, scaled to [0,100]. The document embedding is computed
// once per content hash and reused across the candidate set, which is where
// the batching of a run's scorer calls actually happens.
type EmbeddingScorer struct {
	client *Client

	mu      sync.Mutex
	docHash string
	docVec  []float32
}

func NewEmbeddingScorer(client *Client) *EmbeddingScorer {
	return &EmbeddingScorer{client: client}
}

func (s *EmbeddingScorer) Score(ctx context.Context, documentContent string, control models.Control) (mapping.ScoreResult, error) {
	docVec, err := s.documentEmbedding(ctx, documentContent)
	if err != nil {
		return mapping.ScoreResult{}, fmt.Errorf("%w: %v", mapping.ErrScoringUnavailable, err)
	}

	controlText := control.Title + "\n" + control.Description
	controlVec, err := s.client.GenerateEmbedding(ctx, controlText)
	if err != nil {
		return mapping.ScoreResult{}, fmt.Errorf("%w: %v", mapping.ErrScoringUnavailable, err)
	}

	similarity := cosineSimilarity(docVec, controlVec)
	score := similarityToScore(similarity)

	return mapping.ScoreResult{
		Score:     score,
		Rationale: fmt.Sprintf("embedding similarity %.3f for control %s", similarity, control.Code),
	}, nil
}

func (s *EmbeddingScorer) documentEmbedding(ctx context.Context, content string) ([]float32, error) {
	hash := utils.HashString(content)

	s.mu.Lock()
	if s.docHash == hash && s.docVec != nil {
		vec := s.docVec
		s.mu.Unlock()
		return vec, nil
	}
	s.mu.Unlock()

	text := content
	if len(text) > maxContentChars {
		text = text[:maxContentChars]
	}

	vec, err := s.client.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.docHash = hash
	s.docVec = vec
	s.mu.Unlock()

	return vec, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// similarityToScore maps cosine similarity onto the [0,100] score scale,
// clamping negatives to zero.
func similarityToScore(similarity float64) int {
	if similarity <= 0 {
		return 0
	}
	if similarity >= 1 {
		return 100
	}
	return int(math.Round(similarity * 100))
}
