// Package api mounts the HTTP surface of the integrity service.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/api/handlers"
	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/ingestion"
	"github.com/qrlbk/IntegrityOS/internal/metrics"
	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Store        registry.Store
	Engine       *criticality.Engine
	Orchestrator *ingestion.Orchestrator
	Trainer      handlers.Trainer
	Background   handlers.BackgroundTrainer
	Cache        handlers.PredictionCache
	// CachePinger is checked by the readiness probe when set.
	CachePinger Pinger
}

func Register(app *fiber.App, d Dependencies) {
	importHandler := handlers.NewImportHandler(d.Orchestrator)
	mlHandler := handlers.NewMLHandler(d.Engine, d.Trainer, d.Background, d.Cache)
	assetHandler := handlers.NewAssetHandler(d.Store)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/import", importHandler.Import)

	api.Post("/ml/train", mlHandler.Train)
	api.Get("/ml/status", mlHandler.Status)
	api.Post("/ml/classify", mlHandler.Classify)

	api.Get("/assets/map", assetHandler.Map)
	api.Put("/assets/:external_id/coordinates", assetHandler.UpdateCoordinates)
	api.Get("/stats", assetHandler.Stats)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if _, err := d.Store.Stats(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("dependency", "storage"), zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"reason": "storage",
			})
		}

		resp := fiber.Map{
			"status":   "ready",
			"strategy": d.Engine.Select().Strategy(),
		}
		if d.CachePinger != nil {
			resp["cache"] = "ok"
			if err := d.CachePinger.Ping(ctx); err != nil {
				resp["cache"] = "degraded"
			}
		}
		return c.JSON(resp)
	})
}
