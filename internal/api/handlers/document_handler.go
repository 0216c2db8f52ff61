package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/ingestion"
	"github.com/covermap/backend/internal/mapping"
	"github.com/covermap/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{processor: processor}
}

func (h *DocumentHandler) CreateDocument(c *fiber.Ctx) error {
	var req struct {
		Title string `json:"title"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	doc, err := h.processor.CreateDocument(req.Title)
	if err != nil {
		logger.Error("Failed to create document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    doc.ID,
		"title": doc.Title,
	})
}

func (h *DocumentHandler) AddVersion(c *fiber.Ctx) error {
	documentID := c.Params("id")

	var req struct {
		Content     string `json:"content"`
		ContentType string `json:"content_type"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content is required",
		})
	}

	version, err := h.processor.AddVersion(documentID, req.Content, req.ContentType)
	if err != nil {
		if errors.Is(err, mapping.ErrDocumentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "document not found",
			})
		}
		logger.Error("Failed to add version", zap.String("document_id", documentID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to add version",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":          version.ID,
		"document_id": version.DocumentID,
		"state":       version.State,
	})
}

func (h *DocumentHandler) ApproveVersion(c *fiber.Ctx) error {
	versionID := c.Params("id")

	err := h.processor.ApproveVersion(versionID)
	if err != nil {
		if errors.Is(err, ingestion.ErrVersionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "version not found",
			})
		}
		logger.Error("Failed to approve version", zap.String("version_id", versionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to approve version",
		})
	}

	return c.JSON(fiber.Map{
		"id":    versionID,
		"state": "approved",
	})
}

func (h *DocumentHandler) SeedFramework(c *fiber.Ctx) error {
	var req struct {
		Name         string `json:"name"`
		ShortCode    string `json:"short_code"`
		Jurisdiction string `json:"jurisdiction"`
		Controls     []struct {
			Code        string `json:"code"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"controls"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Name == "" || req.ShortCode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name and short_code are required",
		})
	}

	seed := ingestion.FrameworkSeed{
		Name:         req.Name,
		ShortCode:    req.ShortCode,
		Jurisdiction: req.Jurisdiction,
	}
	for _, ctl := range req.Controls {
		seed.Controls = append(seed.Controls, ingestion.ControlSeed{
			Code:        ctl.Code,
			Title:       ctl.Title,
			Description: ctl.Description,
		})
	}

	source, err := h.processor.SeedFramework(seed)
	if err != nil {
		logger.Error("Failed to seed framework", zap.String("short_code", req.ShortCode), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to seed framework",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         source.ID,
		"short_code": source.ShortCode,
		"controls":   len(req.Controls),
	})
}
