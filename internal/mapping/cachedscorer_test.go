package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covermap/backend/internal/storage/models"
)

type memScoreCache struct {
	entries map[string]ScoreResult
	failing bool
}

func newMemScoreCache() *memScoreCache {
	return &memScoreCache{entries: make(map[string]ScoreResult)}
}

func (c *memScoreCache) GetScore(ctx context.Context, contentHash, controlID string) (int, string, bool, error) {
	if c.failing {
		return 0, "", false, errors.New("cache down")
	}
	r, ok := c.entries[contentHash+"/"+controlID]
	if !ok {
		return 0, "", false, nil
	}
	return r.Score, r.Rationale, true, nil
}

func (c *memScoreCache) SetScore(ctx context.Context, contentHash, controlID string, score int, rationale string) error {
	if c.failing {
		return errors.New("cache down")
	}
	c.entries[contentHash+"/"+controlID] = ScoreResult{Score: score, Rationale: rationale}
	return nil
}

func TestCachedScorer_ReadThrough(t *testing.T) {
	cache := newMemScoreCache()
	calls := 0
	inner := ScorerFunc(func(ctx context.Context, content string, control models.Control) (ScoreResult, error) {
		calls++
		return ScoreResult{Score: 77, Rationale: "fresh"}, nil
	})

	scorer := NewCachedScorer(inner, cache)
	control := models.Control{ID: "ctl-1"}

	first, err := scorer.Score(context.Background(), "content", control)
	require.NoError(t, err)
	assert.Equal(t, 77, first.Score)
	assert.Equal(t, 1, calls)

	second, err := scorer.Score(context.Background(), "content", control)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second call is served from cache")
}

func TestCachedScorer_NewContentMissesCache(t *testing.T) {
	cache := newMemScoreCache()
	calls := 0
	inner := ScorerFunc(func(ctx context.Context, content string, control models.Control) (ScoreResult, error) {
		calls++
		return ScoreResult{Score: calls}, nil
	})

	scorer := NewCachedScorer(inner, cache)
	control := models.Control{ID: "ctl-1"}

	_, err := scorer.Score(context.Background(), "version one", control)
	require.NoError(t, err)
	_, err = scorer.Score(context.Background(), "version two", control)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "changed content changes the cache key")
}

func TestCachedScorer_CacheFailureFallsThrough(t *testing.T) {
	cache := newMemScoreCache()
	cache.failing = true

	inner := ScorerFunc(func(ctx context.Context, content string, control models.Control) (ScoreResult, error) {
		return ScoreResult{Score: 50}, nil
	})

	scorer := NewCachedScorer(inner, cache)
	result, err := scorer.Score(context.Background(), "content", models.Control{ID: "ctl-1"})
	require.NoError(t, err)
	assert.Equal(t, 50, result.Score, "a broken cache never breaks scoring")
}

func TestCachedScorer_ScorerErrorNotCached(t *testing.T) {
	cache := newMemScoreCache()
	inner := ScorerFunc(func(ctx context.Context, content string, control models.Control) (ScoreResult, error) {
		return ScoreResult{}, ErrScoringUnavailable
	})

	scorer := NewCachedScorer(inner, cache)
	_, err := scorer.Score(context.Background(), "content", models.Control{ID: "ctl-1"})
	assert.ErrorIs(t, err, ErrScoringUnavailable)
	assert.Empty(t, cache.entries)
}
