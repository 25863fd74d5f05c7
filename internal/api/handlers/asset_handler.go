package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/metrics"
	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

type AssetHandler struct {
	store registry.Store
}

func NewAssetHandler(store registry.Store) *AssetHandler {
	return &AssetHandler{
		store: store,
	}
}

type assetResponse struct {
	ExternalID    int64                `json:"external_id"`
	Name          string               `json:"name"`
	Category      models.AssetCategory `json:"category"`
	Lat           *float64             `json:"lat"`
	Lon           *float64             `json:"lon"`
	Year          *int                 `json:"year,omitempty"`
	Material      *string              `json:"material,omitempty"`
	LocationState models.LocationState `json:"location_state"`
}

func toAssetResponse(a models.Asset) assetResponse {
	return assetResponse{
		ExternalID:    a.ExternalID,
		Name:          a.Name,
		Category:      a.Category,
		Lat:           a.Lat,
		Lon:           a.Lon,
		Year:          a.Year,
		Material:      a.Material,
		LocationState: a.LocationState,
	}
}

// Map lists assets that can be drawn: verified, with both coordinates.
func (h *AssetHandler) Map(c *fiber.Ctx) error {
	assets, err := h.store.AssetsForMap(c.UserContext())
	if err != nil {
		logger.Error("Failed to load map assets", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load assets",
		})
	}

	out := make([]assetResponse, len(assets))
	for i, a := range assets {
		out[i] = toAssetResponse(a)
	}

	return c.JSON(fiber.Map{
		"assets": out,
		"count":  len(out),
	})
}

func (h *AssetHandler) UpdateCoordinates(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("external_id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "external_id must be an integer",
		})
	}

	var req struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Lat == nil || req.Lon == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "lat and lon are required",
		})
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lon < -180 || *req.Lon > 180 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Coordinates out of range",
		})
	}

	asset, err := h.store.AssignCoordinates(c.UserContext(), id, *req.Lat, *req.Lon)
	if errors.Is(err, apperrors.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		logger.Error("Failed to assign coordinates", zap.Int64("external_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to assign coordinates",
		})
	}

	return c.JSON(toAssetResponse(*asset))
}

func (h *AssetHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.store.Stats(c.UserContext())
	if err != nil {
		logger.Error("Failed to load registry stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load stats",
		})
	}

	metrics.PendingAssets.Set(float64(stats.PendingAssets))
	return c.JSON(stats)
}
