package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

// Scheduler runs training in the background: on demand, after imports, and
// on an optional cron schedule.
type Scheduler struct {
	pipeline *Pipeline
	cron     *cron.Cron
	schedule string

	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(pipeline *Pipeline, schedule string) (*Scheduler, error) {
	cronParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if schedule != "" {
		if _, err := cronParser.Parse(schedule); err != nil {
			return nil, fmt.Errorf("invalid training schedule %q: %w", schedule, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pipeline: pipeline,
		cron:     cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		schedule: schedule,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Scheduler) Start() error {
	if s.schedule == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.TriggerAsync("schedule") }); err != nil {
		return fmt.Errorf("failed to schedule training: %w", err)
	}
	s.cron.Start()
	logger.Info("Training schedule started", zap.String("schedule", s.schedule))
	return nil
}

func (s *Scheduler) Stop() {
	s.cancel()
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	s.wg.Wait()
	logger.Info("Training scheduler stopped")
}

// TriggerAsync starts a training run unless one is already in flight and
// reports whether it did.
func (s *Scheduler) TriggerAsync(reason string) bool {
	if !s.running.CompareAndSwap(false, true) {
		logger.Debug("Training already running, trigger ignored", zap.String("reason", reason))
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		logger.Info("Background training triggered", zap.String("reason", reason))
		result, err := s.pipeline.Train(s.ctx, Options{})
		switch {
		case errors.Is(err, apperrors.ErrConcurrentTraining):
			logger.Info("Background training skipped, another run is active")
		case err != nil:
			logger.Error("Background training failed", zap.String("reason", reason), zap.Error(err))
		case !result.Trained:
			logger.Info("Background training skipped", zap.Int("samples", result.Samples))
		}
	}()
	return true
}

// Wait blocks until in-flight background runs finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
