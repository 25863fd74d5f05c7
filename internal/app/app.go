// Package app assembles the service components from configuration. The API
// server and the CLI share it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	cache "github.com/qrlbk/IntegrityOS/internal/cache/redis"
	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/ingestion"
	"github.com/qrlbk/IntegrityOS/internal/metrics"
	"github.com/qrlbk/IntegrityOS/internal/reconcile"
	"github.com/qrlbk/IntegrityOS/internal/storage/sqlstore"
	"github.com/qrlbk/IntegrityOS/internal/training"
	"github.com/qrlbk/IntegrityOS/pkg/config"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

type App struct {
	Config       *config.Config
	Store        *sqlstore.Client
	Engine       *criticality.Engine
	Pipeline     *training.Pipeline
	Scheduler    *training.Scheduler
	Orchestrator *ingestion.Orchestrator
	// Cache is nil when redis is disabled or unreachable.
	Cache *cache.Client
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := sqlstore.NewClient(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry store: %w", err)
	}

	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	engine := criticality.NewEngine(criticality.NewRuleBased(criticality.RulesFromConfig(cfg.Criticality)))
	pipeline := training.NewPipeline(store, engine, training.ConfigFrom(cfg.Training))

	if err := pipeline.Restore(ctx); err != nil {
		logger.Warn("Failed to restore model, using rules", zap.Error(err))
	}
	metrics.SetActiveStrategy(string(engine.Select().Strategy()))

	scheduler, err := training.NewScheduler(pipeline, cfg.Training.Schedule)
	if err != nil {
		store.Close()
		return nil, err
	}

	reconciler := reconcile.NewReconciler(reconcile.Config{
		RoutePolicy:      reconcile.RoutePolicy(cfg.Ingestion.RoutePolicy),
		AutoCreatedRoute: cfg.Ingestion.AutoCreatedRoute,
	})
	orchestrator := ingestion.NewOrchestrator(store, reconciler, engine)
	if cfg.Ingestion.AutoTrain {
		orchestrator.WithAutoTrain(scheduler)
	}

	a := &App{
		Config:       cfg,
		Store:        store,
		Engine:       engine,
		Pipeline:     pipeline,
		Scheduler:    scheduler,
		Orchestrator: orchestrator,
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			logger.Warn("Prediction cache disabled", zap.Error(err))
		} else {
			a.Cache = client
		}
	}

	return a, nil
}

func (a *App) Close() {
	a.Scheduler.Stop()
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			logger.Warn("Failed to close cache", zap.Error(err))
		}
	}
	if err := a.Store.Close(); err != nil {
		logger.Warn("Failed to close store", zap.Error(err))
	}
}
