package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/api"
	"github.com/qrlbk/IntegrityOS/internal/app"
	"github.com/qrlbk/IntegrityOS/internal/metrics"
	"github.com/qrlbk/IntegrityOS/internal/middleware/ratelimit"
	"github.com/qrlbk/IntegrityOS/internal/middleware/validation"
	"github.com/qrlbk/IntegrityOS/pkg/config"
	appLogger "github.com/qrlbk/IntegrityOS/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting IntegrityOS API Server")

	metrics.Init()

	service, err := app.New(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer service.Close()

	if err := service.Scheduler.Start(); err != nil {
		appLogger.Fatal("Failed to start training scheduler", zap.Error(err))
	}

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: float64(cfg.Server.RequestsPerSecond),
		Burst:             cfg.Server.Burst,
		Logger:            appLogger.GetLogger(),
	})
	defer limiter.Stop()

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(helmet.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, OPTIONS",
	}))
	fiberApp.Use(limiter.Middleware())
	fiberApp.Use(validation.Middleware(validation.Config{
		UploadPaths:   []string{"/api/v1/import"},
		MaxUploadSize: int64(cfg.Server.BodyLimit),
		Logger:        appLogger.GetLogger(),
	}))

	deps := api.Dependencies{
		Store:        service.Store,
		Engine:       service.Engine,
		Orchestrator: service.Orchestrator,
		Trainer:      service.Pipeline,
		Background:   service.Scheduler,
	}
	if service.Cache != nil {
		deps.Cache = service.Cache
		deps.CachePinger = service.Cache
	}
	api.Register(fiberApp, deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := fiberApp.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
