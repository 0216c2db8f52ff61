package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/mapping"
	"github.com/covermap/backend/internal/metrics"
	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/pkg/logger"
)

type MappingHandler struct {
	orchestrator *mapping.Orchestrator
	editor       *mapping.Editor
	coverage     *mapping.CoverageService
}

func NewMappingHandler(orchestrator *mapping.Orchestrator, editor *mapping.Editor, coverage *mapping.CoverageService) *MappingHandler {
	return &MappingHandler{
		orchestrator: orchestrator,
		editor:       editor,
		coverage:     coverage,
	}
}

func (h *MappingHandler) AutoMap(c *fiber.Ctx) error {
	documentID := c.Params("id")
	if documentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document id is required",
		})
	}

	var req struct {
		Frameworks []string `json:"frameworks"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	summary, err := h.orchestrator.Run(c.Context(), documentID, req.Frameworks)
	if err != nil {
		switch {
		case errors.Is(err, mapping.ErrRunInProgress):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "a matching run is already in progress for this document",
			})
		case errors.Is(err, mapping.ErrNoQualifyingContent):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "document has no approved content to match against",
			})
		case errors.Is(err, mapping.ErrScoringDegraded):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "scoring is degraded, no changes were made",
			})
		default:
			logger.Error("Matching run failed", zap.String("document_id", documentID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "matching run failed",
			})
		}
	}

	return c.JSON(fiber.Map{
		"matched": summary.Matched,
		"total":   summary.Total,
		"removed": summary.Removed,
	})
}

func (h *MappingHandler) AddMapping(c *fiber.Ctx) error {
	var req struct {
		DocumentID string `json:"document_id"`
		ControlID  string `json:"control_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.DocumentID == "" || req.ControlID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document_id and control_id are required",
		})
	}

	m, err := h.editor.AddMapping(req.DocumentID, req.ControlID)
	if err != nil {
		if errors.Is(err, mapping.ErrAlreadyMapped) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "mapping already exists for this document and control",
			})
		}
		logger.Error("Failed to add mapping", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to add mapping",
		})
	}

	metrics.ManualEdits.WithLabelValues("add").Inc()
	return c.Status(fiber.StatusCreated).JSON(mappingResponse(m))
}

func (h *MappingHandler) RemoveMapping(c *fiber.Ctx) error {
	mappingID := c.Params("id")

	err := h.editor.RemoveMapping(mappingID)
	if err != nil {
		if errors.Is(err, mapping.ErrMappingNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "mapping not found",
			})
		}
		logger.Error("Failed to remove mapping", zap.String("mapping_id", mappingID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to remove mapping",
		})
	}

	metrics.ManualEdits.WithLabelValues("remove").Inc()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MappingHandler) ReviewMapping(c *fiber.Ctx) error {
	mappingID := c.Params("id")

	var req struct {
		CoverageStatus string  `json:"coverage_status"`
		Rationale      *string `json:"rationale"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	status := models.CoverageStatus(req.CoverageStatus)
	if !status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "coverage_status must be one of not_covered, partially_covered, covered",
		})
	}

	m, err := h.editor.SetCoverageStatus(mappingID, status, req.Rationale)
	if err != nil {
		if errors.Is(err, mapping.ErrMappingNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "mapping not found",
			})
		}
		logger.Error("Failed to review mapping", zap.String("mapping_id", mappingID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update mapping",
		})
	}

	metrics.ManualEdits.WithLabelValues("review").Inc()
	return c.JSON(mappingResponse(m))
}

func (h *MappingHandler) ListMappings(c *fiber.Ctx) error {
	documentID := c.Params("id")

	query := mapping.ElementQuery{
		Framework:  c.Query("framework"),
		Code:       c.Query("code"),
		SearchText: c.Query("q"),
		SortBy:     c.Query("sort", "code"),
		Page:       c.QueryInt("page", 1),
		PageSize:   c.QueryInt("pageSize", 25),
	}

	page, err := h.coverage.MappingsForDocument(documentID, query)
	if err != nil {
		logger.Error("Failed to list mappings", zap.String("document_id", documentID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list mappings",
		})
	}

	return c.JSON(page)
}

func mappingResponse(m *models.Mapping) fiber.Map {
	return fiber.Map{
		"id":              m.ID,
		"document_id":     m.DocumentID,
		"control_id":      m.ControlID,
		"coverage_status": m.CoverageStatus,
		"provenance":      m.Provenance,
		"match_score":     m.MatchScore,
		"rationale":       m.Rationale,
		"created_at":      m.CreatedAt.Unix(),
		"updated_at":      m.UpdatedAt.Unix(),
	}
}
