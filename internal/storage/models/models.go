package models

import (
	"fmt"
	"time"
)

type CoverageStatus string

const (
	CoverageNotCovered       CoverageStatus = "not_covered"
	CoveragePartiallyCovered CoverageStatus = "partially_covered"
	CoverageCovered          CoverageStatus = "covered"
)

func (s CoverageStatus) Valid() bool {
	switch s {
	case CoverageNotCovered, CoveragePartiallyCovered, CoverageCovered:
		return true
	}
	return false
}

type Provenance string

const (
	ProvenanceManual    Provenance = "manual"
	ProvenanceAutomated Provenance = "automated"
)

func (p Provenance) Valid() bool {
	return p == ProvenanceManual || p == ProvenanceAutomated
}

type RegulatorySource struct {
	ID           string
	Name         string
	ShortCode    string
	Jurisdiction string
	CreatedAt    time.Time
}

type Control struct {
	ID          string
	SourceID    string
	Code        string
	Title       string
	Description string
	CreatedAt   time.Time
}

type Document struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type VersionState string

const (
	VersionDraft     VersionState = "draft"
	VersionApproved  VersionState = "approved"
	VersionPublished VersionState = "published"
)

func (s VersionState) Qualifying() bool {
	return s == VersionApproved || s == VersionPublished
}

type DocumentVersion struct {
	ID         string
	DocumentID string
	State      VersionState
	Content    string
	CreatedAt  time.Time
}

type Mapping struct {
	ID             string
	DocumentID     string
	ControlID      string
	CoverageStatus CoverageStatus
	Provenance     Provenance
	MatchScore     *int
	Rationale      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate enforces the mapping invariants before any write: score present
// exactly when provenance is automated, score within [0,100], enums known.
func (m *Mapping) Validate() error {
	if m.DocumentID == "" || m.ControlID == "" {
		return fmt.Errorf("mapping requires document_id and control_id")
	}
	if !m.Provenance.Valid() {
		return fmt.Errorf("invalid provenance %q", m.Provenance)
	}
	if !m.CoverageStatus.Valid() {
		return fmt.Errorf("invalid coverage status %q", m.CoverageStatus)
	}
	if m.Provenance == ProvenanceAutomated {
		if m.MatchScore == nil {
			return fmt.Errorf("automated mapping requires a match score")
		}
		if *m.MatchScore < 0 || *m.MatchScore > 100 {
			return fmt.Errorf("match score %d out of range [0,100]", *m.MatchScore)
		}
	} else if m.MatchScore != nil {
		return fmt.Errorf("manual mapping must not carry a match score")
	}
	return nil
}

// MappedElement is the flattened Mapping -> Control -> RegulatorySource row
// served to the presentation layer.
type MappedElement struct {
	MappingID      string
	DocumentID     string
	ControlID      string
	ControlCode    string
	ControlTitle   string
	SourceID       string
	SourceName     string
	SourceCode     string
	CoverageStatus CoverageStatus
	Provenance     Provenance
	MatchScore     *int
	Rationale      string
	UpdatedAt      time.Time
}

type DocumentCoverage struct {
	DocumentID       string
	TotalMapped      int
	Covered          int
	PartiallyCovered int
	NotCovered       int
	Manual           int
	Automated        int
}

type SourceCoverage struct {
	SourceID       string
	SourceName     string
	SourceCode     string
	TotalControls  int
	MappedControls int
}
