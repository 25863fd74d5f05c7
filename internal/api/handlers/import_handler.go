package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/ingestion"
	"github.com/qrlbk/IntegrityOS/internal/tabular"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

type ImportHandler struct {
	orchestrator *ingestion.Orchestrator
}

func NewImportHandler(orchestrator *ingestion.Orchestrator) *ImportHandler {
	return &ImportHandler{
		orchestrator: orchestrator,
	}
}

// Import accepts either named sources (events, assets) or unlabeled ones
// (file1, file2) whose kinds are detected from their headers.
func (h *ImportHandler) Import(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Multipart form with an events file is required",
		})
	}

	policy, err := ingestion.ParsePolicy(c.FormValue("policy"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	req := ingestion.Request{
		Policy:  policy,
		BatchID: c.FormValue("batch_id"),
	}

	if req.Events, err = readUpload(form, "events"); err == nil {
		req.Assets, err = readUpload(form, "assets")
	}
	if err == nil && req.Events == nil && req.Assets == nil {
		req.Detect = true
		if req.Events, err = readUpload(form, "file1"); err == nil {
			req.Assets, err = readUpload(form, "file2")
		}
	}
	if err != nil {
		logger.Warn("Failed to read upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	result, err := h.orchestrator.Import(c.UserContext(), req)
	if err != nil {
		status := fiber.StatusInternalServerError
		var schemaErr *apperrors.SchemaError
		if errors.As(err, &schemaErr) {
			status = fiber.StatusUnprocessableEntity
		}
		return c.Status(status).JSON(fiber.Map{
			"error":  err.Error(),
			"result": result,
		})
	}

	return c.JSON(result)
}

func readUpload(form *multipart.Form, field string) (*tabular.Table, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}

	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", field, err)
	}
	defer f.Close()

	table, err := tabular.Read(fh.Filename, f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return table, nil
}
