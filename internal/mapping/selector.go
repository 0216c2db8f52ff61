package mapping

import (
	"context"
	"fmt"

	"github.com/covermap/backend/internal/storage/models"
)

// ControlPager supplies one keyset page of controls at a time.
type ControlPager interface {
	ListControlsPage(ctx context.Context, afterID string, limit int, sourceCodes []string) ([]models.Control, error)
}

// CandidateIterator walks the control universe lazily, one page at a time.
// It is restartable: Reset returns it to the first page without side effects,
// so a failed run can re-enumerate under the same filter.
type CandidateIterator struct {
	pager       ControlPager
	pageSize    int
	sourceCodes []string

	buf     []models.Control
	pos     int
	afterID string
	done    bool
}

type Selector struct {
	pager    ControlPager
	pageSize int
}

func NewSelector(pager ControlPager, pageSize int) *Selector {
	if pageSize < 1 {
		pageSize = 100
	}
	return &Selector{
		pager:    pager,
		pageSize: pageSize,
	}
}

// SelectCandidates returns an iterator over every control, optionally
// narrowed to the given framework short codes.
func (s *Selector) SelectCandidates(sourceCodes []string) *CandidateIterator {
	return &CandidateIterator{
		pager:       s.pager,
		pageSize:    s.pageSize,
		sourceCodes: sourceCodes,
	}
}

// Next returns the next candidate control. The second return is false once
// the sequence is exhausted.
func (it *CandidateIterator) Next(ctx context.Context) (models.Control, bool, error) {
	if it.pos >= len(it.buf) {
		if it.done {
			return models.Control{}, false, nil
		}

		page, err := it.pager.ListControlsPage(ctx, it.afterID, it.pageSize, it.sourceCodes)
		if err != nil {
			return models.Control{}, false, fmt.Errorf("failed to fetch candidate page: %w", err)
		}

		if len(page) == 0 {
			it.done = true
			return models.Control{}, false, nil
		}

		it.buf = page
		it.pos = 0
		it.afterID = page[len(page)-1].ID
		if len(page) < it.pageSize {
			it.done = true
		}
	}

	control := it.buf[it.pos]
	it.pos++
	return control, true, nil
}

func (it *CandidateIterator) Reset() {
	it.buf = nil
	it.pos = 0
	it.afterID = ""
	it.done = false
}
