package mapping

import (
	"context"

	"go.uber.org/zap"

	"github.com/covermap/backend/internal/metrics"
	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/pkg/logger"
	"github.com/covermap/backend/pkg/utils"
)

// ScoreCache stores scorer results keyed by content hash and control. A new
// document version changes the hash, so entries never need invalidation.
type ScoreCache interface {
	GetScore(ctx context.Context, contentHash, controlID string) (score int, rationale string, ok bool, err error)
	SetScore(ctx context.Context, contentHash, controlID string, score int, rationale string) error
}

// CachedScorer is a read-through cache in front of a Scorer. Cache errors are
// logged and ignored; the underlying scorer is always authoritative.
type CachedScorer struct {
	inner Scorer
	cache ScoreCache
}

func NewCachedScorer(inner Scorer, cache ScoreCache) *CachedScorer {
	return &CachedScorer{
		inner: inner,
		cache: cache,
	}
}

func (c *CachedScorer) Score(ctx context.Context, documentContent string, control models.Control) (ScoreResult, error) {
	contentHash := utils.HashString(documentContent)

	score, rationale, ok, err := c.cache.GetScore(ctx, contentHash, control.ID)
	if err != nil {
		logger.Warn("Score cache read failed", zap.Error(err))
	}
	if ok {
		metrics.ScoreCacheHits.Inc()
		return ScoreResult{Score: score, Rationale: rationale}, nil
	}
	metrics.ScoreCacheMisses.Inc()

	result, err := c.inner.Score(ctx, documentContent, control)
	if err != nil {
		return ScoreResult{}, err
	}

	if err := c.cache.SetScore(ctx, contentHash, control.ID, result.Score, result.Rationale); err != nil {
		logger.Warn("Score cache write failed", zap.Error(err))
	}

	return result, nil
}
