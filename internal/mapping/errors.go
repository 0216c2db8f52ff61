package mapping

import "errors"

var (
	ErrNoQualifyingContent = errors.New("document has no qualifying content")
	ErrRunInProgress       = errors.New("matching run already in progress for document")
	ErrScoringDegraded     = errors.New("scoring failure budget exceeded")
	ErrScoringUnavailable  = errors.New("scorer unavailable")
	ErrAlreadyMapped       = errors.New("mapping already exists for document and control")
	ErrMappingNotFound     = errors.New("mapping not found")
	ErrDocumentNotFound    = errors.New("document not found")
)
