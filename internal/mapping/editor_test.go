package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/internal/storage/sqlite"
)

type fakeEditorStore struct {
	byPair map[string]*models.Mapping // key: documentID + "/" + controlID
	byID   map[string]*models.Mapping
}

func newFakeEditorStore() *fakeEditorStore {
	return &fakeEditorStore{
		byPair: make(map[string]*models.Mapping),
		byID:   make(map[string]*models.Mapping),
	}
}

func (s *fakeEditorStore) FindMappingByPair(documentID, controlID string) (*models.Mapping, error) {
	m, ok := s.byPair[documentID+"/"+controlID]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	return m, nil
}

func (s *fakeEditorStore) InsertMapping(m *models.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.byPair[m.DocumentID+"/"+m.ControlID] = m
	s.byID[m.ID] = m
	return nil
}

func (s *fakeEditorStore) GetMapping(id string) (*models.Mapping, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	return m, nil
}

func (s *fakeEditorStore) DeleteMapping(id string) (bool, error) {
	m, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	delete(s.byID, id)
	delete(s.byPair, m.DocumentID+"/"+m.ControlID)
	return true, nil
}

func (s *fakeEditorStore) UpdateMappingReview(id string, status models.CoverageStatus, rationale *string) error {
	m, ok := s.byID[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	m.CoverageStatus = status
	if rationale != nil {
		m.Rationale = *rationale
	}
	return nil
}

func TestEditor_AddMapping(t *testing.T) {
	editor := NewEditor(newFakeEditorStore())

	m, err := editor.AddMapping("doc-1", "ctl-1")
	require.NoError(t, err)

	assert.Equal(t, models.ProvenanceManual, m.Provenance)
	assert.Equal(t, models.CoverageNotCovered, m.CoverageStatus)
	assert.Nil(t, m.MatchScore)
}

func TestEditor_AddMappingTwiceFails(t *testing.T) {
	editor := NewEditor(newFakeEditorStore())

	_, err := editor.AddMapping("doc-1", "ctl-1")
	require.NoError(t, err)

	_, err = editor.AddMapping("doc-1", "ctl-1")
	assert.ErrorIs(t, err, ErrAlreadyMapped)
}

func TestEditor_AddMappingConflictsWithAutomatedRow(t *testing.T) {
	store := newFakeEditorStore()
	score := 75
	auto := &models.Mapping{
		ID:             "auto-1",
		DocumentID:     "doc-1",
		ControlID:      "ctl-1",
		CoverageStatus: models.CoveragePartiallyCovered,
		Provenance:     models.ProvenanceAutomated,
		MatchScore:     &score,
	}
	require.NoError(t, store.InsertMapping(auto))

	editor := NewEditor(store)
	_, err := editor.AddMapping("doc-1", "ctl-1")
	assert.ErrorIs(t, err, ErrAlreadyMapped, "any provenance blocks a duplicate pair")
}

func TestEditor_RemoveMapping(t *testing.T) {
	store := newFakeEditorStore()
	editor := NewEditor(store)

	m, err := editor.AddMapping("doc-1", "ctl-1")
	require.NoError(t, err)

	require.NoError(t, editor.RemoveMapping(m.ID))
	assert.ErrorIs(t, editor.RemoveMapping(m.ID), ErrMappingNotFound)
}

func TestEditor_RemoveMappingHasManualAuthorityOverAutomated(t *testing.T) {
	store := newFakeEditorStore()
	score := 90
	require.NoError(t, store.InsertMapping(&models.Mapping{
		ID:             "auto-1",
		DocumentID:     "doc-1",
		ControlID:      "ctl-1",
		CoverageStatus: models.CoverageCovered,
		Provenance:     models.ProvenanceAutomated,
		MatchScore:     &score,
	}))

	editor := NewEditor(store)
	assert.NoError(t, editor.RemoveMapping("auto-1"))
}

func TestEditor_SetCoverageStatus(t *testing.T) {
	store := newFakeEditorStore()
	editor := NewEditor(store)

	m, err := editor.AddMapping("doc-1", "ctl-1")
	require.NoError(t, err)

	rationale := "reviewed against section 4.2"
	updated, err := editor.SetCoverageStatus(m.ID, models.CoverageCovered, &rationale)
	require.NoError(t, err)

	assert.Equal(t, models.CoverageCovered, updated.CoverageStatus)
	assert.Equal(t, rationale, updated.Rationale)
}

func TestEditor_SetCoverageStatusRejectsUnknownStatus(t *testing.T) {
	editor := NewEditor(newFakeEditorStore())

	_, err := editor.SetCoverageStatus("any", models.CoverageStatus("bogus"), nil)
	assert.Error(t, err)
}

func TestEditor_SetCoverageStatusNotFound(t *testing.T) {
	editor := NewEditor(newFakeEditorStore())

	_, err := editor.SetCoverageStatus("missing", models.CoverageCovered, nil)
	assert.ErrorIs(t, err, ErrMappingNotFound)
}
