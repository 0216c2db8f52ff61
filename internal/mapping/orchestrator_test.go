package mapping

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covermap/backend/internal/storage/models"
)

type fakeStore struct {
	mu       sync.Mutex
	content  string
	hasText  bool
	mappings map[string]models.Mapping // key: controlID
	applies  int
}

func newFakeStore(content string) *fakeStore {
	return &fakeStore{
		content:  content,
		hasText:  content != "",
		mappings: make(map[string]models.Mapping),
	}
}

func (s *fakeStore) GetQualifyingContent(documentID string) (string, bool, error) {
	return s.content, s.hasText, nil
}

func (s *fakeStore) ListMappingsByDocument(documentID string) ([]models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Mapping
	for _, m := range s.mappings {
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeStore) ApplyRunChanges(ctx context.Context, documentID string, upserts []models.Mapping, deleteIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applies++

	for _, m := range upserts {
		if existing, ok := s.mappings[m.ControlID]; ok && existing.Provenance == models.ProvenanceManual {
			continue
		}
		s.mappings[m.ControlID] = m
	}

	removed := 0
	for _, id := range deleteIDs {
		for controlID, m := range s.mappings {
			if m.ID == id && m.Provenance == models.ProvenanceAutomated {
				delete(s.mappings, controlID)
				removed++
			}
		}
	}

	return removed, nil
}

func (s *fakeStore) CountAutomatedMappings(documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.mappings {
		if m.Provenance == models.ProvenanceAutomated {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) addManual(controlID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappings[controlID] = models.Mapping{
		ID:             "manual-" + controlID,
		DocumentID:     "doc-1",
		ControlID:      controlID,
		CoverageStatus: models.CoverageNotCovered,
		Provenance:     models.ProvenanceManual,
	}
}

func (s *fakeStore) addAutomated(controlID string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappings[controlID] = models.Mapping{
		ID:             "auto-" + controlID,
		DocumentID:     "doc-1",
		ControlID:      controlID,
		CoverageStatus: models.CoveragePartiallyCovered,
		Provenance:     models.ProvenanceAutomated,
		MatchScore:     &score,
	}
}

type fakePager struct {
	controls []models.Control
}

func (p *fakePager) ListControlsPage(ctx context.Context, afterID string, limit int, sourceCodes []string) ([]models.Control, error) {
	var page []models.Control
	for _, c := range p.controls {
		if c.ID > afterID {
			page = append(page, c)
			if len(page) == limit {
				break
			}
		}
	}
	return page, nil
}

func controls(ids ...string) []models.Control {
	out := make([]models.Control, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Control{ID: id, Code: "C-" + id, Title: "Control " + id})
	}
	return out
}

// scoreTable maps controlID to a score; a negative score simulates a scorer
// failure for that control.
func tableScorer(scores map[string]int) Scorer {
	return ScorerFunc(func(ctx context.Context, content string, control models.Control) (ScoreResult, error) {
		score, ok := scores[control.ID]
		if !ok || score < 0 {
			return ScoreResult{}, fmt.Errorf("%w: control %s", ErrScoringUnavailable, control.ID)
		}
		return ScoreResult{Score: score, Rationale: "scored " + control.ID}, nil
	})
}

func newTestOrchestrator(store RunStore, pager ControlPager, scorer Scorer) *Orchestrator {
	selector := NewSelector(pager, 2)
	return NewOrchestrator(store, selector, scorer, nil, RunConfig{
		AcceptThreshold:  60,
		CoveredThreshold: 80,
		FailureBudget:    0.5,
		RunTimeout:       5 * time.Second,
	})
}

func TestRun_NoQualifyingContent(t *testing.T) {
	store := newFakeStore("")
	pager := &fakePager{controls: controls("c1")}
	orch := newTestOrchestrator(store, pager, tableScorer(map[string]int{"c1": 90}))

	_, err := orch.Run(context.Background(), "doc-1", nil)
	require.ErrorIs(t, err, ErrNoQualifyingContent)
	assert.Zero(t, store.applies, "no writes on precondition failure")
}

func TestRun_AcceptSkipAndFailure(t *testing.T) {
	store := newFakeStore("policy text")
	pager := &fakePager{controls: controls("c1", "c2", "c3")}
	orch := newTestOrchestrator(store, pager, tableScorer(map[string]int{
		"c1": 85,
		"c2": 40,
		"c3": -1,
	}))

	summary, err := orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 0, summary.Removed)

	m, ok := store.mappings["c1"]
	require.True(t, ok, "accepted candidate must be mapped")
	assert.Equal(t, models.ProvenanceAutomated, m.Provenance)
	assert.Equal(t, models.CoverageCovered, m.CoverageStatus)
	require.NotNil(t, m.MatchScore)
	assert.Equal(t, 85, *m.MatchScore)

	_, ok = store.mappings["c2"]
	assert.False(t, ok, "below-threshold candidate must not be mapped")
	_, ok = store.mappings["c3"]
	assert.False(t, ok, "failed candidate must not be mapped")
}

func TestRun_StatusBands(t *testing.T) {
	store := newFakeStore("policy text")
	pager := &fakePager{controls: controls("c1", "c2")}
	orch := newTestOrchestrator(store, pager, tableScorer(map[string]int{
		"c1": 80,
		"c2": 60,
	}))

	_, err := orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)

	assert.Equal(t, models.CoverageCovered, store.mappings["c1"].CoverageStatus)
	assert.Equal(t, models.CoveragePartiallyCovered, store.mappings["c2"].CoverageStatus)
}

func TestRun_PrunesRescoredAutomatedMapping(t *testing.T) {
	store := newFakeStore("policy text")
	store.addAutomated("c2", 72)

	pager := &fakePager{controls: controls("c1", "c2")}
	orch := newTestOrchestrator(store, pager, tableScorer(map[string]int{
		"c1": 85,
		"c2": 30,
	}))

	summary, err := orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, 1, summary.Matched)
	_, ok := store.mappings["c2"]
	assert.False(t, ok, "re-scored automated mapping below threshold must be pruned")
}

func TestRun_KeepsAutomatedMappingOnScorerFailure(t *testing.T) {
	store := newFakeStore("policy text")
	store.addAutomated("c2", 72)

	pager := &fakePager{controls: controls("c1", "c2")}
	orch := newTestOrchestrator(store, pager, tableScorer(map[string]int{
		"c1": 85,
		"c2": -1,
	}))

	summary, err := orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Removed)
	m, ok := store.mappings["c2"]
	require.True(t, ok, "absence of a fresh score is not evidence of non-coverage")
	assert.Equal(t, 72, *m.MatchScore)
}

func TestRun_ManualMappingsUntouchable(t *testing.T) {
	store := newFakeStore("policy text")
	store.addManual("c1")

	pager := &fakePager{controls: controls("c1", "c2")}
	orch := newTestOrchestrator(store, pager, tableScorer(map[string]int{
		"c1": 5,
		"c2": 90,
	}))

	summary, err := orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total, "manually mapped control is excluded from the candidate set")
	assert.Equal(t, 0, summary.Removed)

	m, ok := store.mappings["c1"]
	require.True(t, ok)
	assert.Equal(t, models.ProvenanceManual, m.Provenance)
}

func TestRun_FailureBudgetAborts(t *testing.T) {
	store := newFakeStore("policy text")
	store.addAutomated("c3", 70)

	pager := &fakePager{controls: controls("c1", "c2", "c3")}
	orch := newTestOrchestrator(store, pager, tableScorer(map[string]int{
		"c1": -1,
		"c2": -1,
		"c3": 90,
	}))

	_, err := orch.Run(context.Background(), "doc-1", nil)
	require.ErrorIs(t, err, ErrScoringDegraded)
	assert.Zero(t, store.applies, "degraded run must not write")

	m, ok := store.mappings["c3"]
	require.True(t, ok)
	assert.Equal(t, 70, *m.MatchScore, "existing mappings survive an aborted run")
}

func TestRun_Idempotent(t *testing.T) {
	store := newFakeStore("policy text")
	pager := &fakePager{controls: controls("c1", "c2", "c3")}
	scorer := tableScorer(map[string]int{
		"c1": 85,
		"c2": 65,
		"c3": 20,
	})
	orch := newTestOrchestrator(store, pager, scorer)

	first, err := orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)

	second, err := orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Matched, second.Matched)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, 0, second.Removed)
}

func TestRun_SingleFlight(t *testing.T) {
	store := newFakeStore("policy text")
	pager := &fakePager{controls: controls("c1")}

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	blockingScorer := ScorerFunc(func(ctx context.Context, content string, control models.Control) (ScoreResult, error) {
		once.Do(func() { close(started) })
		<-release
		return ScoreResult{Score: 90, Rationale: "ok"}, nil
	})

	orch := newTestOrchestrator(store, pager, blockingScorer)

	var firstErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = orch.Run(context.Background(), "doc-1", nil)
	}()

	<-started

	_, err := orch.Run(context.Background(), "doc-1", nil)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)

	// Lock is released after completion, a new run may start.
	_, err = orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)
}

func TestRun_DifferentDocumentsProceedInParallel(t *testing.T) {
	storeA := newFakeStore("text a")
	pager := &fakePager{controls: controls("c1")}

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	blockingScorer := ScorerFunc(func(ctx context.Context, content string, control models.Control) (ScoreResult, error) {
		once.Do(func() { close(started) })
		<-release
		return ScoreResult{Score: 90, Rationale: "ok"}, nil
	})

	orch := newTestOrchestrator(storeA, pager, blockingScorer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(context.Background(), "doc-1", nil)
	}()

	<-started

	// A run on another document is not blocked by doc-1's lock. Its scorer
	// also blocks on release, so run it in a goroutine and release both.
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := orch.Run(context.Background(), "doc-2", nil)
		errCh <- err
	}()

	assert.True(t, orch.locks.Held("doc-1"))

	close(release)
	wg.Wait()
	require.NoError(t, <-errCh)
}

func TestRun_UpsertRefusesManualOverwriteAtCommit(t *testing.T) {
	// A manual mapping that lands after the partition was read must survive
	// the commit: the store-level guard, not the orchestrator, protects it.
	store := newFakeStore("policy text")
	pager := &fakePager{controls: controls("c1")}

	sneaky := ScorerFunc(func(ctx context.Context, content string, control models.Control) (ScoreResult, error) {
		store.addManual("c1")
		return ScoreResult{Score: 95, Rationale: "late"}, nil
	})

	orch := newTestOrchestrator(store, pager, sneaky)

	_, err := orch.Run(context.Background(), "doc-1", nil)
	require.NoError(t, err)

	m := store.mappings["c1"]
	assert.Equal(t, models.ProvenanceManual, m.Provenance, "mid-run manual edit is preserved")
}
