package mapping

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/internal/storage/sqlite"
	"github.com/covermap/backend/pkg/logger"
)

// EditorStore is the slice of the mapping store used for manual edits.
type EditorStore interface {
	FindMappingByPair(documentID, controlID string) (*models.Mapping, error)
	InsertMapping(m *models.Mapping) error
	GetMapping(id string) (*models.Mapping, error)
	DeleteMapping(id string) (bool, error)
	UpdateMappingReview(id string, status models.CoverageStatus, rationale *string) error
}

// Editor performs direct mapping edits on behalf of a user. Manual authority
// overrides provenance restrictions: RemoveMapping deletes automated rows too.
type Editor struct {
	store EditorStore
}

func NewEditor(store EditorStore) *Editor {
	return &Editor{store: store}
}

// AddMapping creates a manual mapping for the pair. Any existing mapping for
// the pair, whatever its provenance, fails the call with ErrAlreadyMapped.
func (e *Editor) AddMapping(documentID, controlID string) (*models.Mapping, error) {
	_, err := e.store.FindMappingByPair(documentID, controlID)
	if err == nil {
		return nil, ErrAlreadyMapped
	}
	if !errors.Is(err, sqlite.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing mapping: %w", err)
	}

	now := time.Now()
	m := &models.Mapping{
		ID:             uuid.New().String(),
		DocumentID:     documentID,
		ControlID:      controlID,
		CoverageStatus: models.CoverageNotCovered,
		Provenance:     models.ProvenanceManual,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.store.InsertMapping(m); err != nil {
		return nil, fmt.Errorf("failed to create mapping: %w", err)
	}

	logger.Info("Manual mapping added",
		zap.String("document_id", documentID),
		zap.String("control_id", controlID),
	)
	return m, nil
}

func (e *Editor) RemoveMapping(mappingID string) error {
	deleted, err := e.store.DeleteMapping(mappingID)
	if err != nil {
		return fmt.Errorf("failed to remove mapping: %w", err)
	}
	if !deleted {
		return ErrMappingNotFound
	}

	logger.Info("Mapping removed", zap.String("mapping_id", mappingID))
	return nil
}

// SetCoverageStatus records the explicit user review of a mapping's coverage
// state, optionally with a justification.
func (e *Editor) SetCoverageStatus(mappingID string, status models.CoverageStatus, rationale *string) (*models.Mapping, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid coverage status %q", status)
	}

	err := e.store.UpdateMappingReview(mappingID, status, rationale)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update mapping: %w", err)
	}

	m, err := e.store.GetMapping(mappingID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload mapping: %w", err)
	}

	logger.Info("Mapping reviewed",
		zap.String("mapping_id", mappingID),
		zap.String("coverage_status", string(status)),
	)
	return m, nil
}
