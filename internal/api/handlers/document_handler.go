package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/ingestion"
	"github.com/kgforge/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

func (h *DocumentHandler) IngestDocument(c *fiber.Ctx) error {
	var req ingestion.Request

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Namespace == "" || req.Source == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "namespace and source are required",
		})
	}
	if req.Text == "" && req.HTML == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text or html content is required",
		})
	}

	result, err := h.processor.ProcessDocument(c.Context(), req)
	if err != nil {
		logger.Error("Failed to process document",
			zap.String("namespace", req.Namespace),
			zap.String("source", req.Source),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}
