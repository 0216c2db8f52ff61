package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/metrics"
	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/pkg/logger"
)

// RunStore is the slice of the mapping store the orchestrator writes through.
type RunStore interface {
	GetQualifyingContent(documentID string) (string, bool, error)
	ListMappingsByDocument(documentID string) ([]models.Mapping, error)
	ApplyRunChanges(ctx context.Context, documentID string, upserts []models.Mapping, deleteIDs []string) (int, error)
	CountAutomatedMappings(documentID string) (int, error)
}

type RunConfig struct {
	AcceptThreshold  int
	CoveredThreshold int
	FailureBudget    float64
	RunTimeout       time.Duration
}

func (c RunConfig) withDefaults() RunConfig {
	if c.AcceptThreshold == 0 {
		c.AcceptThreshold = 60
	}
	if c.CoveredThreshold == 0 {
		c.CoveredThreshold = 80
	}
	if c.FailureBudget == 0 {
		c.FailureBudget = 0.5
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = 120 * time.Second
	}
	return c
}

type RunSummary struct {
	Matched int `json:"matched"`
	Total   int `json:"total"`
	Removed int `json:"removed"`
}

// Orchestrator executes one complete matching run per document under a
// single-flight lock.
type Orchestrator struct {
	store    RunStore
	selector *Selector
	scorer   Scorer
	locks    *KeyedLock
	events   EventPublisher
	cfg      RunConfig
}

func NewOrchestrator(store RunStore, selector *Selector, scorer Scorer, events EventPublisher, cfg RunConfig) *Orchestrator {
	return &Orchestrator{
		store:    store,
		selector: selector,
		scorer:   scorer,
		locks:    NewKeyedLock(),
		events:   events,
		cfg:      cfg.withDefaults(),
	}
}

// Run scores every candidate control against the document's qualifying
// content and commits accepted and pruned mappings in one transaction.
// Manual mappings are never touched. A second concurrent call for the same
// document fails fast with ErrRunInProgress.
func (o *Orchestrator) Run(ctx context.Context, documentID string, sourceCodes []string) (RunSummary, error) {
	if !o.locks.TryAcquire(documentID) {
		return RunSummary{}, ErrRunInProgress
	}
	defer o.locks.Release(documentID)

	started := time.Now()
	summary, err := o.run(ctx, documentID, sourceCodes)
	metrics.ObserveRun(time.Since(started), err)

	if err != nil {
		publish(o.events, RunEvent{Type: RunFailed, DocumentID: documentID, Error: err.Error()})
		return RunSummary{}, err
	}

	publish(o.events, RunEvent{
		Type:       RunFinished,
		DocumentID: documentID,
		Matched:    summary.Matched,
		Removed:    summary.Removed,
		Scored:     summary.Total,
	})
	return summary, nil
}

func (o *Orchestrator) run(parent context.Context, documentID string, sourceCodes []string) (RunSummary, error) {
	// The run owns its deadline; a disconnecting caller must not abort a
	// commit already in flight.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.cfg.RunTimeout)
	defer cancel()

	content, ok, err := o.store.GetQualifyingContent(documentID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to load document content: %w", err)
	}
	if !ok {
		return RunSummary{}, ErrNoQualifyingContent
	}

	existing, err := o.store.ListMappingsByDocument(documentID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to load existing mappings: %w", err)
	}

	manual := make(map[string]struct{})
	automated := make(map[string]models.Mapping)
	for _, m := range existing {
		if m.Provenance == models.ProvenanceManual {
			manual[m.ControlID] = struct{}{}
		} else {
			automated[m.ControlID] = m
		}
	}

	publish(o.events, RunEvent{Type: RunStarted, DocumentID: documentID})

	logger.Info("Matching run started",
		zap.String("document_id", documentID),
		zap.Strings("frameworks", sourceCodes),
		zap.Int("manual_mappings", len(manual)),
		zap.Int("automated_mappings", len(automated)),
	)

	scored := make(map[string]ScoreResult)
	total := 0
	failures := 0

	it := o.selector.SelectCandidates(sourceCodes)
	for {
		if ctx.Err() != nil {
			return RunSummary{}, fmt.Errorf("matching run aborted: %w", ctx.Err())
		}

		control, ok, err := it.Next(ctx)
		if err != nil {
			return RunSummary{}, fmt.Errorf("candidate enumeration failed: %w", err)
		}
		if !ok {
			break
		}

		if _, isManual := manual[control.ID]; isManual {
			continue
		}

		total++

		result, err := o.scorer.Score(ctx, content, control)
		if err != nil {
			failures++
			metrics.ScorerFailures.Inc()
			logger.Warn("Scorer failed for control",
				zap.String("document_id", documentID),
				zap.String("control_id", control.ID),
				zap.Error(err),
			)
			continue
		}

		metrics.CandidatesScored.Inc()
		scored[control.ID] = result

		if total%25 == 0 {
			publish(o.events, RunEvent{
				Type:       RunProgress,
				DocumentID: documentID,
				Scored:     total - failures,
				Failed:     failures,
			})
		}
	}

	if total > 0 && float64(failures)/float64(total) > o.cfg.FailureBudget {
		logger.Error("Matching run aborted, failure budget exceeded",
			zap.String("document_id", documentID),
			zap.Int("failures", failures),
			zap.Int("total", total),
		)
		return RunSummary{}, fmt.Errorf("%w: %d of %d scorer calls failed", ErrScoringDegraded, failures, total)
	}

	upserts, deleteIDs := o.applyPolicy(documentID, scored, automated)

	removed, err := o.store.ApplyRunChanges(ctx, documentID, upserts, deleteIDs)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to commit run changes: %w", err)
	}

	matched, err := o.store.CountAutomatedMappings(documentID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to count automated mappings: %w", err)
	}

	metrics.MappingsProposed.Add(float64(len(upserts)))
	metrics.MappingsPruned.Add(float64(removed))

	logger.Info("Matching run finished",
		zap.String("document_id", documentID),
		zap.Int("matched", matched),
		zap.Int("total", total),
		zap.Int("removed", removed),
		zap.Int("scorer_failures", failures),
	)

	return RunSummary{Matched: matched, Total: total, Removed: removed}, nil
}

// applyPolicy turns this run's scores into upserts and prunes. A candidate is
// accepted at or above the acceptance threshold; an existing automated row is
// pruned only when a fresh score fell below it. Controls that could not be
// scored this run are left untouched.
func (o *Orchestrator) applyPolicy(documentID string, scored map[string]ScoreResult, automated map[string]models.Mapping) ([]models.Mapping, []string) {
	now := time.Now()

	var upserts []models.Mapping
	var deleteIDs []string

	for controlID, result := range scored {
		if result.Score < o.cfg.AcceptThreshold {
			if prior, ok := automated[controlID]; ok {
				deleteIDs = append(deleteIDs, prior.ID)
			}
			continue
		}

		score := result.Score
		m := models.Mapping{
			ID:             uuid.New().String(),
			DocumentID:     documentID,
			ControlID:      controlID,
			CoverageStatus: o.statusForScore(score),
			Provenance:     models.ProvenanceAutomated,
			MatchScore:     &score,
			Rationale:      result.Rationale,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if prior, ok := automated[controlID]; ok {
			m.ID = prior.ID
			m.CreatedAt = prior.CreatedAt
		}
		upserts = append(upserts, m)
	}

	return upserts, deleteIDs
}

func (o *Orchestrator) statusForScore(score int) models.CoverageStatus {
	if score >= o.cfg.CoveredThreshold {
		return models.CoverageCovered
	}
	return models.CoveragePartiallyCovered
}
