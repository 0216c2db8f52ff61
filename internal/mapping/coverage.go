package mapping

import (
	"fmt"

	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/internal/storage/sqlite"
)

// CoverageStore is the read-side slice of the mapping store. Queries always
// hit committed state; coverage figures are audit-relevant, so nothing here
// is cached.
type CoverageStore interface {
	GetDocumentCoverage(documentID string) (*models.DocumentCoverage, error)
	ListSourceCoverage() ([]models.SourceCoverage, error)
	ListMappedElements(documentID string, filter sqlite.ElementFilter, sortBy string, page, pageSize int) ([]models.MappedElement, int, error)
}

type CoverageService struct {
	store CoverageStore
}

func NewCoverageService(store CoverageStore) *CoverageService {
	return &CoverageService{store: store}
}

func (s *CoverageService) DocumentCoverage(documentID string) (*models.DocumentCoverage, error) {
	cov, err := s.store.GetDocumentCoverage(documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate document coverage: %w", err)
	}
	return cov, nil
}

// SourceCoverage reports, per framework, how many controls exist and how many
// are mapped by at least one document.
func (s *CoverageService) SourceCoverage() ([]models.SourceCoverage, error) {
	coverage, err := s.store.ListSourceCoverage()
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate source coverage: %w", err)
	}
	return coverage, nil
}

type ElementQuery struct {
	Framework  string
	Code       string
	SearchText string
	SortBy     string
	Page       int
	PageSize   int
}

type ElementPage struct {
	Items    []models.MappedElement `json:"items"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

func (s *CoverageService) MappingsForDocument(documentID string, q ElementQuery) (*ElementPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 200 {
		q.PageSize = 25
	}

	filter := sqlite.ElementFilter{
		SourceCode: q.Framework,
		Code:       q.Code,
		Search:     q.SearchText,
	}

	items, total, err := s.store.ListMappedElements(documentID, filter, q.SortBy, q.Page, q.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list mapped elements: %w", err)
	}

	return &ElementPage{
		Items:    items,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}
