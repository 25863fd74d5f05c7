// Package training fits the criticality model from labeled inspection events
// and installs it into the engine.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/evaluation"
	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/forest"
	"github.com/qrlbk/IntegrityOS/internal/metrics"
	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/config"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

const tracerName = "integrityos/training"

type Config struct {
	MinSamples          int
	TestSize            float64
	Seed                int64
	CVFolds             int
	Forest              forest.Config
	ReclassifyOnRetrain bool
}

func DefaultConfig() Config {
	return Config{
		MinSamples: 100,
		TestSize:   0.2,
		Seed:       42,
		CVFolds:    5,
		Forest:     forest.DefaultConfig(),
	}
}

func ConfigFrom(cfg config.TrainingConfig) Config {
	return Config{
		MinSamples: cfg.MinSamples,
		TestSize:   cfg.TestSize,
		Seed:       cfg.RandomState,
		CVFolds:    cfg.CVFolds,
		Forest: forest.Config{
			Trees:           cfg.Trees,
			MaxDepth:        cfg.MaxDepth,
			MinSamplesSplit: cfg.MinSamplesSplit,
			Seed:            cfg.RandomState,
			Workers:         cfg.Workers,
		},
		ReclassifyOnRetrain: cfg.ReclassifyOnRetrain,
	}
}

type Options struct {
	// TestSize overrides the configured held-out fraction.
	TestSize *float64
}

type Result struct {
	Trained      bool               `json:"trained"`
	Samples      int                `json:"samples"`
	TrainSize    int                `json:"train_size,omitempty"`
	TestSize     int                `json:"test_size,omitempty"`
	Version      string             `json:"version,omitempty"`
	Metrics      *evaluation.Report `json:"metrics,omitempty"`
	Reclassified int                `json:"reclassified,omitempty"`
	Duration     time.Duration      `json:"-"`
}

type Pipeline struct {
	store  registry.Store
	engine *criticality.Engine
	cfg    Config
	tracer trace.Tracer

	mu sync.Mutex
}

func NewPipeline(store registry.Store, engine *criticality.Engine, cfg Config) *Pipeline {
	return &Pipeline{
		store:  store,
		engine: engine,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Train fits a new model from every labeled event. Fewer than MinSamples
// samples is not an error: the result reports Trained=false and the engine
// keeps its current state.
func (p *Pipeline) Train(ctx context.Context, opts Options) (*Result, error) {
	if !p.mu.TryLock() {
		return nil, apperrors.ErrConcurrentTraining
	}
	defer p.mu.Unlock()

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "training.Train")
	defer span.End()

	testSize := p.cfg.TestSize
	if opts.TestSize != nil {
		testSize = *opts.TestSize
	}

	samples, err := p.store.LabeledSamples(ctx)
	if err != nil {
		p.fail(span, "load", err)
		return nil, fmt.Errorf("failed to load labeled samples: %w", err)
	}
	span.SetAttributes(attribute.Int("samples", len(samples)), attribute.Float64("test_size", testSize))

	if len(samples) < p.cfg.MinSamples {
		metrics.TrainingRuns.WithLabelValues("insufficient_data").Inc()
		logger.Info("Not enough labeled samples to train",
			zap.Int("samples", len(samples)),
			zap.Int("required", p.cfg.MinSamples),
		)
		return &Result{Trained: false, Samples: len(samples), Duration: time.Since(start)}, nil
	}

	logger.Info("Training started", zap.Int("samples", len(samples)), zap.Float64("test_size", testSize))

	model, report, err := p.fit(ctx, samples, testSize)
	if err != nil {
		p.fail(span, "fit", err)
		return nil, err
	}

	sequence, err := p.nextSequence(ctx)
	if err != nil {
		p.fail(span, "persist", err)
		return nil, err
	}
	version := fmt.Sprintf("v%d", sequence)
	model = model.WithVersion(version)

	snap, err := criticality.Snapshot(model, report, sequence, len(samples))
	if err != nil {
		p.fail(span, "persist", err)
		return nil, fmt.Errorf("failed to build model snapshot: %w", err)
	}
	if err := p.store.SaveModelSnapshot(ctx, snap); err != nil {
		p.fail(span, "persist", err)
		return nil, fmt.Errorf("failed to persist model: %w", err)
	}

	p.engine.Swap(&criticality.State{
		Trained:  model,
		Metrics:  report,
		Version:  version,
		Samples:  len(samples),
		FittedAt: snap.CreatedAt,
	})

	result := &Result{
		Trained:   true,
		Samples:   len(samples),
		TrainSize: report.TrainSize,
		TestSize:  report.TestSize,
		Version:   version,
		Metrics:   report,
	}

	if p.cfg.ReclassifyOnRetrain {
		n, err := p.Reclassify(ctx)
		if err != nil {
			logger.Error("Failed to reclassify events", zap.String("version", version), zap.Error(err))
		}
		result.Reclassified = n
	}

	result.Duration = time.Since(start)
	metrics.TrainingDuration.Observe(result.Duration.Seconds())
	metrics.TrainingRuns.WithLabelValues("trained").Inc()
	metrics.ModelF1Macro.Set(report.F1Macro)
	metrics.ModelAccuracy.Set(report.Accuracy)
	metrics.SetActiveStrategy(string(models.StrategyTrained))
	span.SetAttributes(attribute.String("version", version), attribute.Float64("f1_macro", report.F1Macro))

	logger.Info("Training completed",
		zap.String("version", version),
		zap.Int("train_size", report.TrainSize),
		zap.Int("test_size", report.TestSize),
		zap.Float64("accuracy", report.Accuracy),
		zap.Float64("f1_macro", report.F1Macro),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

func (p *Pipeline) fail(span trace.Span, step string, err error) {
	metrics.TrainingRuns.WithLabelValues("failed").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, step)
	logger.Error("Training failed", zap.String("step", step), zap.Error(err))
}

// fit runs split, fit, evaluation and cross-validation. Any error or panic
// comes back as a *apperrors.FitError.
func (p *Pipeline) fit(ctx context.Context, samples []models.LabeledSample, testSize float64) (model *criticality.Trained, report *evaluation.Report, err error) {
	step := "split"
	defer func() {
		if r := recover(); r != nil {
			err = &apperrors.FitError{Step: step, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	y := make([]int, len(samples))
	for i, s := range samples {
		y[i] = s.Label.Index()
	}

	trainIdx, testIdx, err := evaluation.StratifiedSplit(y, testSize, p.cfg.Seed)
	if errors.Is(err, evaluation.ErrCannotStratify) {
		logger.Warn("Falling back to unstratified split", zap.Error(err))
		trainIdx, testIdx, err = evaluation.RandomSplit(len(y), testSize, p.cfg.Seed)
	}
	if err != nil {
		return nil, nil, &apperrors.FitError{Step: step, Err: err}
	}

	step = "features"
	encoder, data := prepare(samples, trainIdx)
	train, test := data.subset(trainIdx), data.subset(testIdx)

	step = "fit"
	model, err = p.fitModel(ctx, encoder, train)
	if err != nil {
		return nil, nil, &apperrors.FitError{Step: step, Err: err}
	}

	step = "evaluate"
	report, err = score(model, test)
	if err != nil {
		return nil, nil, &apperrors.FitError{Step: step, Err: err}
	}
	report.TrainSize, report.TestSize = len(train.rows), len(test.rows)

	step = "cross_validation"
	scores, err := p.crossValidate(ctx, encoder, train)
	if err != nil {
		return nil, nil, &apperrors.FitError{Step: step, Err: err}
	}
	report.SetCrossValidation(scores)

	return model, report, nil
}

// dataset is a feature matrix with its ground truth, row-aligned.
type dataset struct {
	rows  []criticality.Features
	truth []models.Label
}

func (d dataset) subset(idx []int) dataset {
	out := dataset{
		rows:  make([]criticality.Features, len(idx)),
		truth: make([]models.Label, len(idx)),
	}
	for i, j := range idx {
		out.rows[i] = d.rows[j]
		out.truth[i] = d.truth[j]
	}
	return out
}

// prepare fits the method encoder on the training rows and transforms every
// sample in one pass, so per-method normalization uses full-set means.
func prepare(samples []models.LabeledSample, trainIdx []int) (*criticality.MethodEncoder, dataset) {
	methods := make([]string, len(trainIdx))
	for i, j := range trainIdx {
		methods[i] = string(samples[j].Method)
	}
	encoder := criticality.FitMethodEncoder(methods)

	events := make([]criticality.Event, len(samples))
	data := dataset{truth: make([]models.Label, len(samples))}
	for i, s := range samples {
		events[i] = toEvent(s)
		data.truth[i] = s.Label
	}
	data.rows = criticality.NewFeatures(events, encoder)
	return encoder, data
}

func (p *Pipeline) fitModel(ctx context.Context, encoder *criticality.MethodEncoder, train dataset) (*criticality.Trained, error) {
	x := make([][]float64, len(train.rows))
	y := make([]int, len(train.rows))
	for i, f := range train.rows {
		x[i] = f.Vector
		y[i] = train.truth[i].Index()
	}

	scaler, err := criticality.FitScaler(x)
	if err != nil {
		return nil, err
	}
	scaled := make([][]float64, len(x))
	for i := range x {
		scaled[i] = scaler.Transform(x[i])
	}

	f, err := forest.Fit(ctx, scaled, y, len(models.Labels), p.cfg.Forest)
	if err != nil {
		return nil, err
	}
	return criticality.NewTrained("", encoder, scaler, f), nil
}

// predict labels rows the way the engine serves clf.
func predict(clf criticality.Classifier, data dataset) ([]models.Label, error) {
	preds, err := criticality.Classify(criticality.Guard(clf), data.rows)
	if err != nil {
		return nil, err
	}
	labels := make([]models.Label, len(preds))
	for i, pr := range preds {
		labels[i] = pr.Label
	}
	return labels, nil
}

func score(clf criticality.Classifier, test dataset) (*evaluation.Report, error) {
	predicted, err := predict(clf, test)
	if err != nil {
		return nil, err
	}
	return evaluation.Evaluate(test.truth, predicted)
}

// crossValidate returns the macro F1 of each stratified fold of train.
func (p *Pipeline) crossValidate(ctx context.Context, encoder *criticality.MethodEncoder, train dataset) ([]float64, error) {
	y := make([]int, len(train.truth))
	for i, l := range train.truth {
		y[i] = l.Index()
	}
	folds, err := evaluation.StratifiedKFold(y, p.cfg.CVFolds)
	if err != nil {
		logger.Warn("Skipping cross-validation", zap.Error(err))
		return nil, nil
	}

	scores := make([]float64, len(folds))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.Forest.Workers))
	for i, fold := range folds {
		i, fold := i, fold
		g.Go(func() error {
			model, err := p.fitModel(ctx, encoder, train.subset(evaluation.Complement(len(y), fold)))
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			held := train.subset(fold)
			predicted, err := predict(model, held)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			if scores[i], err = evaluation.MacroF1(held.truth, predicted); err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (p *Pipeline) nextSequence(ctx context.Context) (int64, error) {
	latest, err := p.store.LatestModelSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read model sequence: %w", err)
	}
	if latest == nil {
		return 1, nil
	}
	return latest.Sequence + 1, nil
}

// Restore installs the most recent persisted model, if any.
func (p *Pipeline) Restore(ctx context.Context) error {
	snap, err := p.store.LatestModelSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load model snapshot: %w", err)
	}
	if snap == nil {
		logger.Info("No model snapshot found, using rule-based classification")
		metrics.SetActiveStrategy(string(models.StrategyRuleBased))
		return nil
	}

	model, report, err := criticality.Restore(snap)
	if err != nil {
		return err
	}
	p.engine.Swap(&criticality.State{
		Trained:  model,
		Metrics:  report,
		Version:  snap.Version,
		Samples:  snap.Samples,
		FittedAt: snap.CreatedAt,
	})
	metrics.SetActiveStrategy(string(models.StrategyTrained))
	if report != nil {
		metrics.ModelF1Macro.Set(report.F1Macro)
		metrics.ModelAccuracy.Set(report.Accuracy)
	}
	return nil
}

// Reclassify relabels every stored event with the engine's current classifier
// in one transaction.
func (p *Pipeline) Reclassify(ctx context.Context) (int, error) {
	clf := p.engine.Select()
	batchID := "reclassify-" + clf.Version()
	updated := 0

	err := p.store.WithTx(ctx, func(tx registry.Tx) error {
		samples, err := tx.EventsForReclassification(ctx)
		if err != nil {
			return err
		}
		events := make([]criticality.Event, len(samples))
		for i, s := range samples {
			events[i] = toEvent(s)
		}
		preds, err := criticality.Predict(clf, events)
		if err != nil {
			return err
		}

		labels := make(map[int64]models.Label, len(preds))
		logs := make([]models.PredictionLog, len(preds))
		now := time.Now().UTC()
		for i, pr := range preds {
			id := samples[i].EventExternalID
			labels[id] = pr.Label
			logs[i] = criticality.AuditLog(&id, pr, clf, batchID, now)
		}
		if err := tx.UpdateLabels(ctx, labels); err != nil {
			return err
		}
		if err := tx.InsertPredictionLogs(ctx, logs); err != nil {
			return err
		}
		updated = len(labels)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reclassify events: %w", err)
	}

	logger.Info("Events reclassified", zap.Int("events", updated), zap.String("version", clf.Version()))
	return updated, nil
}

func toEvent(s models.LabeledSample) criticality.Event {
	return criticality.Event{
		Input: features.Input{
			Method:      string(s.Method),
			Date:        s.Date,
			Param1:      s.Param1,
			Param2:      s.Param2,
			Param3:      s.Param3,
			DefectFound: s.DefectFound,
			AssetYear:   s.AssetYear,
		},
		Description: s.DefectDescription,
	}
}
