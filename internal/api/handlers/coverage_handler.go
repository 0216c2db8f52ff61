package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/mapping"
	"github.com/covermap/backend/pkg/logger"
)

type CoverageHandler struct {
	coverage *mapping.CoverageService
}

func NewCoverageHandler(coverage *mapping.CoverageService) *CoverageHandler {
	return &CoverageHandler{coverage: coverage}
}

func (h *CoverageHandler) DocumentCoverage(c *fiber.Ctx) error {
	documentID := c.Params("id")

	cov, err := h.coverage.DocumentCoverage(documentID)
	if err != nil {
		logger.Error("Failed to aggregate document coverage", zap.String("document_id", documentID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to aggregate coverage",
		})
	}

	return c.JSON(fiber.Map{
		"document_id":       cov.DocumentID,
		"total_mapped":      cov.TotalMapped,
		"covered":           cov.Covered,
		"partially_covered": cov.PartiallyCovered,
		"not_covered":       cov.NotCovered,
		"manual":            cov.Manual,
		"automated":         cov.Automated,
	})
}

func (h *CoverageHandler) SourceCoverage(c *fiber.Ctx) error {
	coverage, err := h.coverage.SourceCoverage()
	if err != nil {
		logger.Error("Failed to aggregate source coverage", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to aggregate coverage",
		})
	}

	items := make([]fiber.Map, 0, len(coverage))
	for _, sc := range coverage {
		unmapped := sc.TotalControls - sc.MappedControls
		items = append(items, fiber.Map{
			"source_id":       sc.SourceID,
			"source_name":     sc.SourceName,
			"source_code":     sc.SourceCode,
			"total_controls":  sc.TotalControls,
			"mapped_controls": sc.MappedControls,
			"unmapped":        unmapped,
		})
	}

	return c.JSON(fiber.Map{"sources": items})
}
