package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	cache "github.com/qrlbk/IntegrityOS/internal/cache/redis"
	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/metrics"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/internal/training"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

type Trainer interface {
	Train(ctx context.Context, opts training.Options) (*training.Result, error)
}

type BackgroundTrainer interface {
	TriggerAsync(reason string) bool
}

type PredictionCache interface {
	GetPrediction(ctx context.Context, key string) (*cache.CachedPrediction, bool, error)
	SetPrediction(ctx context.Context, key string, prediction *cache.CachedPrediction) error
	InvalidatePredictions(ctx context.Context) error
}

type MLHandler struct {
	engine     *criticality.Engine
	trainer    Trainer
	background BackgroundTrainer
	cache      PredictionCache
}

// NewMLHandler wires the model endpoints. background and predictions may be
// nil.
func NewMLHandler(engine *criticality.Engine, trainer Trainer, background BackgroundTrainer, predictions PredictionCache) *MLHandler {
	return &MLHandler{
		engine:     engine,
		trainer:    trainer,
		background: background,
		cache:      predictions,
	}
}

func (h *MLHandler) Train(c *fiber.Ctx) error {
	var req struct {
		TestSize *float64 `json:"test_size"`
		Async    bool     `json:"async"`
	}

	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	if req.TestSize != nil && (*req.TestSize <= 0 || *req.TestSize >= 1) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "test_size must be between 0 and 1",
		})
	}

	if req.Async {
		if h.background == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Background training is not configured",
			})
		}
		if !h.background.TriggerAsync("api") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": apperrors.ErrConcurrentTraining.Error(),
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"accepted": true,
		})
	}

	result, err := h.trainer.Train(c.UserContext(), training.Options{TestSize: req.TestSize})
	if err != nil {
		if errors.Is(err, apperrors.ErrConcurrentTraining) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		logger.Error("Training failed", zap.Error(err))
		resp := fiber.Map{"error": err.Error()}
		var fitErr *apperrors.FitError
		if errors.As(err, &fitErr) {
			resp["stage"] = fitErr.Step
		}
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}

	if result.Trained && h.cache != nil {
		if err := h.cache.InvalidatePredictions(c.UserContext()); err != nil {
			logger.Warn("Failed to invalidate prediction cache", zap.Error(err))
		}
	}

	return c.JSON(result)
}

func (h *MLHandler) Status(c *fiber.Ctx) error {
	state := h.engine.Current()
	clf := h.engine.Select()

	resp := fiber.Map{
		"strategy": clf.Strategy(),
		"version":  clf.Version(),
		"trained":  state.IsTrained(),
	}
	if state.IsTrained() {
		resp["samples"] = state.Samples
		resp["fitted_at"] = state.FittedAt
		resp["metrics"] = state.Metrics
		resp["methods"] = state.Trained.Methods()
		resp["feature_importances"] = state.Trained.Importances()
	}

	return c.JSON(resp)
}

type classifyRequest struct {
	Method            string   `json:"method"`
	Date              string   `json:"date"`
	DefectFound       bool     `json:"defect_found"`
	DefectDescription string   `json:"defect_description"`
	Param1            *float64 `json:"param1"`
	Param2            *float64 `json:"param2"`
	Param3            *float64 `json:"param3"`
	AssetYear         *int     `json:"asset_year"`
}

// Classify labels a single ad-hoc event without storing it.
func (h *MLHandler) Classify(c *fiber.Ctx) error {
	var req classifyRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	method, err := models.ParseInspectionMethod(req.Method)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	date := time.Now().UTC()
	if req.Date != "" {
		if date, err = parseRequestDate(req.Date); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "date must be YYYY-MM-DD or RFC3339",
			})
		}
	}

	clf := h.engine.Select()
	prepared := criticality.Prepare(clf, []criticality.Event{{
		Input: features.Input{
			Method:      string(method),
			Date:        date,
			Param1:      req.Param1,
			Param2:      req.Param2,
			Param3:      req.Param3,
			DefectFound: req.DefectFound,
			AssetYear:   req.AssetYear,
		},
		Description: req.DefectDescription,
	}})

	ctx := c.UserContext()
	key := cache.PredictionKey(clf.Version(), prepared[0].Vector.Hash(), strings.TrimSpace(req.DefectDescription))
	if h.cache != nil {
		cached, ok, err := h.cache.GetPrediction(ctx, key)
		if err != nil {
			logger.Warn("Prediction cache unavailable", zap.Error(err))
		} else if ok {
			return c.JSON(fiber.Map{
				"prediction": cached,
				"cached":     true,
			})
		}
	}

	predictions, err := criticality.Classify(clf, prepared)
	if err != nil {
		logger.Error("Failed to classify event", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to classify event",
		})
	}

	p := predictions[0]
	prediction := &cache.CachedPrediction{
		Label:         p.Label,
		Strategy:      clf.Strategy(),
		ModelVersion:  clf.Version(),
		Probabilities: p.Probabilities,
		FeatureHash:   p.FeatureHash,
	}
	metrics.Classifications.WithLabelValues(string(clf.Strategy()), string(p.Label)).Inc()

	if h.cache != nil {
		if err := h.cache.SetPrediction(ctx, key, prediction); err != nil {
			logger.Warn("Failed to cache prediction", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"prediction": prediction,
		"cached":     false,
	})
}

func parseRequestDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
