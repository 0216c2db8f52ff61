package mapping

import (
	"context"

	"github.com/covermap/backend/internal/storage/models"
)

type ScoreResult struct {
	Score     int
	Rationale string
}

// Scorer is the external matching capability: given the document text and one
// control it returns a relevance score in [0,100] with a short rationale.
// Transient failures wrap ErrScoringUnavailable; the orchestrator skips the
// candidate and charges its failure budget.
type Scorer interface {
	Score(ctx context.Context, documentContent string, control models.Control) (ScoreResult, error)
}

type ScorerFunc func(ctx context.Context, documentContent string, control models.Control) (ScoreResult, error)

func (f ScorerFunc) Score(ctx context.Context, documentContent string, control models.Control) (ScoreResult, error) {
	return f(ctx, documentContent, control)
}
