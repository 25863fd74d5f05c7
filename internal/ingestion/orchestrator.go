// Package ingestion imports asset and inspection files as one atomic batch:
// parse, reconcile assets, engineer features, classify and persist.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/metrics"
	"github.com/qrlbk/IntegrityOS/internal/parser"
	"github.com/qrlbk/IntegrityOS/internal/reconcile"
	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/internal/tabular"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

const tracerName = "integrityos/ingestion"

type Policy string

const (
	SkipExisting Policy = "skip_existing"
	ReplaceAll   Policy = "replace_all"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SkipExisting:
		return SkipExisting, nil
	case ReplaceAll:
		return ReplaceAll, nil
	}
	return "", fmt.Errorf("unknown import policy %q", s)
}

type Stage string

const (
	StageParsing            Stage = "parsing"
	StageReconciling        Stage = "reconciling"
	StageFeatureEngineering Stage = "feature_engineering"
	StageClassifying        Stage = "classifying"
	StagePersisting         Stage = "persisting"
	StageCommitted          Stage = "committed"
	StageFailed             Stage = "failed"
)

type Request struct {
	Events *tabular.Table
	Assets *tabular.Table
	// Detect treats Events and Assets as unlabeled sources and assigns
	// their kinds from the column headers.
	Detect  bool
	Policy  Policy
	BatchID string
}

type BatchResult struct {
	BatchID           string                  `json:"batch_id"`
	Success           bool                    `json:"success"`
	Policy            Policy                  `json:"policy"`
	Stage             Stage                   `json:"stage"`
	FailedStage       Stage                   `json:"failed_stage,omitempty"`
	AssetRows         int                     `json:"asset_rows"`
	EventRows         int                     `json:"event_rows"`
	AssetsImported    int                     `json:"assets_imported"`
	AssetsAutoCreated int                     `json:"assets_auto_created"`
	AssetsSkipped     int                     `json:"assets_skipped"`
	RoutesCreated     int                     `json:"routes_created"`
	EventsImported    int                     `json:"events_imported"`
	EventsSkipped     int                     `json:"events_skipped"`
	LabelsByStrategy  map[models.Strategy]int `json:"labels_by_strategy"`
	LabelCounts       map[models.Label]int    `json:"label_counts"`
	Strategy          models.Strategy         `json:"strategy,omitempty"`
	ModelVersion      string                  `json:"model_version,omitempty"`
	Errors            []apperrors.RowError    `json:"errors"`
	Failure           string                  `json:"failure,omitempty"`
	TrainingTriggered bool                    `json:"training_triggered"`
	Duration          time.Duration           `json:"-"`
	DurationMS        int64                   `json:"duration_ms"`
}

// Trainer is notified after a committed batch while the engine is untrained.
type Trainer interface {
	TriggerAsync(reason string) bool
}

type Orchestrator struct {
	store      registry.Store
	reconciler *reconcile.Reconciler
	engine     *criticality.Engine
	trainer    Trainer
	tracer     trace.Tracer
}

func NewOrchestrator(store registry.Store, reconciler *reconcile.Reconciler, engine *criticality.Engine) *Orchestrator {
	return &Orchestrator{
		store:      store,
		reconciler: reconciler,
		engine:     engine,
		tracer:     otel.Tracer(tracerName),
	}
}

// WithAutoTrain enables the post-import training trigger.
func (o *Orchestrator) WithAutoTrain(trainer Trainer) *Orchestrator {
	o.trainer = trainer
	return o
}

type parsed struct {
	assetSource string
	eventSource string
	assets      []parser.AssetRecord
	events      []parser.EventRecord
	hasAssets   bool
}

// Import runs one batch. Every write happens in a single transaction; on a
// fatal error nothing is stored, the returned result carries the stage that
// failed and the error is a *apperrors.StageError.
func (o *Orchestrator) Import(ctx context.Context, req Request) (*BatchResult, error) {
	start := time.Now()

	if req.BatchID == "" {
		req.BatchID = uuid.New().String()
	}
	if req.Policy == "" {
		req.Policy = SkipExisting
	}

	result := &BatchResult{
		BatchID:          req.BatchID,
		Policy:           req.Policy,
		LabelsByStrategy: make(map[models.Strategy]int),
		LabelCounts:      make(map[models.Label]int),
		Errors:           []apperrors.RowError{},
	}

	ctx, span := o.tracer.Start(ctx, "ingestion.Import", trace.WithAttributes(
		attribute.String("batch_id", req.BatchID),
		attribute.String("policy", string(req.Policy)),
	))
	defer span.End()

	logger.Info("Import started", zap.String("batch_id", req.BatchID), zap.String("policy", string(req.Policy)))

	var in *parsed
	err := o.stage(ctx, result, StageParsing, func(ctx context.Context) error {
		var err error
		in, err = o.parse(req, result)
		return err
	})
	if err == nil {
		err = o.store.WithTx(ctx, func(tx registry.Tx) error {
			return o.write(ctx, tx, req, in, result)
		})
	}

	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()
	metrics.ImportDuration.WithLabelValues(string(req.Policy)).Observe(result.Duration.Seconds())

	if err != nil {
		failed := result.Stage
		result.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(failed))
		metrics.ImportTotal.WithLabelValues("failed").Inc()
		logger.Error("Import failed",
			zap.String("batch_id", req.BatchID),
			zap.String("stage", string(failed)),
			zap.Error(err),
		)
		return result, &apperrors.StageError{Stage: string(failed), Err: err}
	}

	result.Stage = StageCommitted
	result.Success = true
	o.record(result)

	if o.trainer != nil && !o.engine.Current().IsTrained() && result.EventsImported > 0 {
		result.TrainingTriggered = o.trainer.TriggerAsync("import " + req.BatchID)
	}

	logger.Info("Import committed",
		zap.String("batch_id", req.BatchID),
		zap.Int("assets_imported", result.AssetsImported),
		zap.Int("assets_auto_created", result.AssetsAutoCreated),
		zap.Int("events_imported", result.EventsImported),
		zap.Int("events_skipped", result.EventsSkipped),
		zap.Int("row_errors", len(result.Errors)),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

func (o *Orchestrator) stage(ctx context.Context, result *BatchResult, stage Stage, fn func(ctx context.Context) error) error {
	result.Stage = stage
	ctx, span := o.tracer.Start(ctx, "ingestion."+string(stage))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (o *Orchestrator) parse(req Request, result *BatchResult) (*parsed, error) {
	eventsTable, assetsTable := req.Events, req.Assets
	if req.Detect {
		var err error
		eventsTable, assetsTable, err = assignKinds(req.Events, req.Assets)
		if err != nil {
			return nil, err
		}
	}
	if eventsTable == nil {
		return nil, &apperrors.SchemaError{Source: "request", Reason: "an inspection event source is required"}
	}

	in := &parsed{eventSource: eventsTable.Name}

	if assetsTable != nil {
		records, rowErrs, err := parser.ParseAssets(assetsTable)
		if err != nil {
			return nil, err
		}
		in.assetSource = assetsTable.Name
		in.assets = records
		in.hasAssets = true
		result.AssetRows = len(assetsTable.Rows)
		result.Errors = append(result.Errors, rowErrs...)
	}

	records, rowErrs, err := parser.ParseEvents(eventsTable)
	if err != nil {
		return nil, err
	}
	in.events = records
	result.EventRows = len(eventsTable.Rows)
	result.Errors = append(result.Errors, rowErrs...)

	return in, nil
}

// assignKinds sorts up to two unlabeled tables into events and assets.
func assignKinds(tables ...*tabular.Table) (events, assets *tabular.Table, err error) {
	for _, t := range tables {
		if t == nil {
			continue
		}
		kind, err := parser.DetectKind(t)
		if err != nil {
			return nil, nil, err
		}
		switch kind {
		case parser.KindEvent:
			if events != nil {
				return nil, nil, &apperrors.SchemaError{Source: t.Name, Reason: fmt.Sprintf("%s and %s both contain inspection events", events.Name, t.Name)}
			}
			events = t
		case parser.KindAsset:
			if assets != nil {
				return nil, nil, &apperrors.SchemaError{Source: t.Name, Reason: fmt.Sprintf("%s and %s both contain assets", assets.Name, t.Name)}
			}
			assets = t
		}
	}
	return events, assets, nil
}

func (o *Orchestrator) write(ctx context.Context, tx registry.Tx, req Request, in *parsed, result *BatchResult) error {
	var (
		pending  []parser.EventRecord
		resolved *reconcile.Result
	)

	err := o.stage(ctx, result, StageReconciling, func(ctx context.Context) error {
		if req.Policy == ReplaceAll {
			if err := tx.DeleteAll(ctx); err != nil {
				return fmt.Errorf("failed to clear registry: %w", err)
			}
			logger.Info("Registry cleared for replace-all import", zap.String("batch_id", req.BatchID))
		}

		var err error
		pending, err = o.filterEvents(ctx, tx, in, result)
		if err != nil {
			return err
		}

		refs := make([]reconcile.Reference, len(pending))
		for i, e := range pending {
			refs[i] = reconcile.Reference{Source: in.eventSource, Row: e.Row, AssetExternalID: e.AssetExternalID}
		}
		resolved, err = o.reconciler.Reconcile(ctx, tx, reconcile.Input{
			AssetSource:         in.assetSource,
			Assets:              in.assets,
			AssetSourceSupplied: in.hasAssets,
			References:          refs,
		})
		if err != nil {
			return err
		}

		result.AssetsImported = resolved.Imported
		result.AssetsAutoCreated = resolved.AutoCreated
		result.AssetsSkipped = resolved.Skipped
		result.RoutesCreated = resolved.RoutesCreated
		result.Errors = append(result.Errors, resolved.AssetErrors...)
		result.Errors = append(result.Errors, resolved.ReferenceErrors...)

		kept := pending[:0]
		for _, e := range pending {
			if resolved.Resolved(e.AssetExternalID) {
				kept = append(kept, e)
			}
		}
		pending = kept
		return nil
	})
	if err != nil {
		return err
	}

	clf := o.engine.Select()
	result.Strategy = clf.Strategy()
	result.ModelVersion = clf.Version()

	var prepared []criticality.Features
	err = o.stage(ctx, result, StageFeatureEngineering, func(ctx context.Context) error {
		events := make([]criticality.Event, len(pending))
		for i, e := range pending {
			asset := resolved.Assets[e.AssetExternalID]
			events[i] = criticality.Event{
				Input: features.Input{
					Method:      string(e.Method),
					Date:        e.Date,
					Param1:      e.Param1,
					Param2:      e.Param2,
					Param3:      e.Param3,
					DefectFound: e.DefectFound,
					AssetYear:   asset.Year,
				},
				Description: e.DefectDescription,
			}
		}
		prepared = criticality.Prepare(clf, events)
		return nil
	})
	if err != nil {
		return err
	}

	var predictions []criticality.Prediction
	err = o.stage(ctx, result, StageClassifying, func(ctx context.Context) error {
		var err error
		predictions, err = criticality.Classify(clf, prepared)
		if err != nil {
			return fmt.Errorf("failed to classify events with %s: %w", clf.Strategy(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return o.stage(ctx, result, StagePersisting, func(ctx context.Context) error {
		now := time.Now().UTC()
		rows := make([]*models.InspectionEvent, len(pending))
		logs := make([]models.PredictionLog, len(pending))
		for i, e := range pending {
			label := predictions[i].Label
			rows[i] = &models.InspectionEvent{
				ExternalID:        e.ExternalID,
				AssetID:           resolved.Handles[e.AssetExternalID],
				Method:            e.Method,
				Date:              e.Date,
				Temperature:       e.Temperature,
				Humidity:          e.Humidity,
				Illumination:      e.Illumination,
				DefectFound:       e.DefectFound,
				DefectDescription: e.DefectDescription,
				Param1:            e.Param1,
				Param2:            e.Param2,
				Param3:            e.Param3,
				QualityGrade:      e.QualityGrade,
				Label:             &label,
				BatchID:           req.BatchID,
				CreatedAt:         now,
			}
			id := e.ExternalID
			logs[i] = criticality.AuditLog(&id, predictions[i], clf, req.BatchID, now)

			result.LabelsByStrategy[clf.Strategy()]++
			result.LabelCounts[label]++
		}

		if err := tx.InsertEvents(ctx, rows); err != nil {
			return fmt.Errorf("failed to store events: %w", err)
		}
		if err := tx.InsertPredictionLogs(ctx, logs); err != nil {
			return fmt.Errorf("failed to store prediction logs: %w", err)
		}
		result.EventsImported = len(rows)
		return nil
	})
}

// filterEvents drops in-file duplicates and, under SkipExisting, events the
// registry already holds.
func (o *Orchestrator) filterEvents(ctx context.Context, tx registry.Tx, in *parsed, result *BatchResult) ([]parser.EventRecord, error) {
	firstRow := make(map[int64]int, len(in.events))
	unique := make([]parser.EventRecord, 0, len(in.events))
	ids := make([]int64, 0, len(in.events))
	for _, e := range in.events {
		if row, ok := firstRow[e.ExternalID]; ok {
			result.Errors = append(result.Errors, apperrors.RowError{
				Source:  in.eventSource,
				Row:     e.Row,
				Kind:    apperrors.DuplicateRow,
				Field:   "diag_id",
				Message: fmt.Sprintf("inspection %d already defined on row %d", e.ExternalID, row),
			})
			continue
		}
		firstRow[e.ExternalID] = e.Row
		unique = append(unique, e)
		ids = append(ids, e.ExternalID)
	}

	existing, err := tx.ExistingEventIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing events: %w", err)
	}

	out := unique[:0]
	for _, e := range unique {
		if existing[e.ExternalID] {
			result.EventsSkipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// fail rewrites the result of a rolled-back batch: nothing was written, the
// parse counts and row errors remain.
func (r *BatchResult) fail(err error) {
	r.FailedStage = r.Stage
	r.Stage = StageFailed
	r.Success = false
	r.Failure = err.Error()
	r.AssetsImported = 0
	r.AssetsAutoCreated = 0
	r.AssetsSkipped = 0
	r.RoutesCreated = 0
	r.EventsImported = 0
	r.EventsSkipped = 0
	r.LabelsByStrategy = map[models.Strategy]int{}
	r.LabelCounts = map[models.Label]int{}
}

func (o *Orchestrator) record(r *BatchResult) {
	metrics.ImportTotal.WithLabelValues("committed").Inc()
	metrics.RowsProcessed.WithLabelValues("assets", "imported").Add(float64(r.AssetsImported))
	metrics.RowsProcessed.WithLabelValues("assets", "auto_created").Add(float64(r.AssetsAutoCreated))
	metrics.RowsProcessed.WithLabelValues("assets", "skipped").Add(float64(r.AssetsSkipped))
	metrics.RowsProcessed.WithLabelValues("events", "imported").Add(float64(r.EventsImported))
	metrics.RowsProcessed.WithLabelValues("events", "skipped").Add(float64(r.EventsSkipped))
	for _, e := range r.Errors {
		metrics.RowErrors.WithLabelValues(string(e.Kind)).Inc()
	}
	for label, n := range r.LabelCounts {
		metrics.Classifications.WithLabelValues(string(r.Strategy), string(label)).Add(float64(n))
	}
}
