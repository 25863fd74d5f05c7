package training

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/internal/storage/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Client {
	t.Helper()
	client, err := sqlstore.NewClient(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.InitSchema())
	return client
}

// seedLabeled stores n labeled events whose label follows param1.
func seedLabeled(t *testing.T, store *sqlstore.Client, n int) {
	t.Helper()
	ctx := context.Background()
	methods := []models.InspectionMethod{models.MethodVIK, models.MethodUT, models.MethodMFL}

	err := store.WithTx(ctx, func(tx registry.Tx) error {
		route, err := tx.CreateRoute(ctx, "MT-01")
		if err != nil {
			return err
		}
		year := 1985
		asset := &models.Asset{ExternalID: 1, Name: "S1", Category: models.CategorySegment, RouteID: route.ID, Year: &year, LocationState: models.LocationPending}
		if err := tx.InsertAsset(ctx, asset); err != nil {
			return err
		}

		events := make([]*models.InspectionEvent, n)
		for i := 0; i < n; i++ {
			p1 := float64(i % 30)
			p2 := float64(i % 7)
			label := models.LabelNormal
			switch {
			case p1 >= 20:
				label = models.LabelHigh
			case p1 >= 10:
				label = models.LabelMedium
			}
			events[i] = &models.InspectionEvent{
				ExternalID:  int64(1000 + i),
				AssetID:     asset.ID,
				Method:      methods[i%len(methods)],
				Date:        time.Date(2020+i%4, time.Month(1+i%12), 1+i%27, 0, 0, 0, 0, time.UTC),
				DefectFound: true,
				Param1:      &p1,
				Param2:      &p2,
				Label:       &label,
				BatchID:     "seed",
			}
		}
		return tx.InsertEvents(ctx, events)
	})
	require.NoError(t, err)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Forest.Trees = 10
	cfg.Forest.Workers = 4
	return cfg
}

func newPipeline(t *testing.T, store registry.Store, cfg Config) (*Pipeline, *criticality.Engine) {
	t.Helper()
	engine := criticality.NewEngine(criticality.NewRuleBased(criticality.DefaultRules()))
	return NewPipeline(store, engine, cfg), engine
}

func TestTrain_InsufficientData(t *testing.T) {
	tests := []struct {
		name       string
		trainFirst bool
	}{
		{name: "rules stay active", trainFirst: false},
		{name: "trained model stays active", trainFirst: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			engine := criticality.NewEngine(criticality.NewRuleBased(criticality.DefaultRules()))

			if tt.trainFirst {
				full := newStore(t)
				seedLabeled(t, full, 100)
				_, err := NewPipeline(full, engine, testConfig()).Train(ctx, Options{})
				require.NoError(t, err)
				require.True(t, engine.Current().IsTrained())
			}
			before := engine.Current()

			store := newStore(t)
			seedLabeled(t, store, 99)
			result, err := NewPipeline(store, engine, testConfig()).Train(ctx, Options{})
			require.NoError(t, err)

			assert.False(t, result.Trained)
			assert.Equal(t, 99, result.Samples)
			assert.Same(t, before, engine.Current())
			assert.Equal(t, tt.trainFirst, engine.Current().IsTrained())

			snap, err := store.LatestModelSnapshot(ctx)
			require.NoError(t, err)
			assert.Nil(t, snap)
		})
	}
}

func TestTrain_HundredSamples(t *testing.T) {
	store := newStore(t)
	seedLabeled(t, store, 100)
	pipeline, engine := newPipeline(t, store, testConfig())

	result, err := pipeline.Train(context.Background(), Options{})
	require.NoError(t, err)

	assert.True(t, result.Trained)
	assert.Equal(t, 100, result.Samples)
	assert.Equal(t, 80, result.TrainSize)
	assert.Equal(t, 20, result.TestSize)
	assert.Equal(t, "v1", result.Version)

	m := result.Metrics
	require.NotNil(t, m)
	for name, v := range map[string]float64{
		"accuracy":        m.Accuracy,
		"precision_macro": m.PrecisionMacro,
		"recall_macro":    m.RecallMacro,
		"f1_macro":        m.F1Macro,
		"f1_weighted":     m.F1Weighted,
		"cv_f1_mean":      m.CVF1Mean,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
	assert.Equal(t, 5, m.CVFolds)
	assert.Len(t, m.ConfusionMatrix, 3)

	state := engine.Current()
	assert.True(t, state.IsTrained())
	assert.Equal(t, "v1", state.Version)
	assert.Equal(t, models.StrategyTrained, engine.Select().Strategy())

	again, err := pipeline.Train(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "v2", again.Version)
}

func TestTrain_TestSizeOverride(t *testing.T) {
	store := newStore(t)
	seedLabeled(t, store, 100)
	pipeline, _ := newPipeline(t, store, testConfig())

	size := 0.3
	result, err := pipeline.Train(context.Background(), Options{TestSize: &size})
	require.NoError(t, err)
	assert.Equal(t, 70, result.TrainSize)
	assert.Equal(t, 30, result.TestSize)
}

func TestTrain_RejectsConcurrentRuns(t *testing.T) {
	store := newStore(t)
	pipeline, _ := newPipeline(t, store, testConfig())

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()

	_, err := pipeline.Train(context.Background(), Options{})
	assert.ErrorIs(t, err, apperrors.ErrConcurrentTraining)
}

func TestTrain_FitErrorLeavesEngineUntouched(t *testing.T) {
	store := newStore(t)
	seedLabeled(t, store, 100)
	pipeline, engine := newPipeline(t, store, testConfig())
	before := engine.Current()

	size := 0.999
	_, err := pipeline.Train(context.Background(), Options{TestSize: &size})

	var fitErr *apperrors.FitError
	require.True(t, errors.As(err, &fitErr), "got %v", err)
	assert.Equal(t, "split", fitErr.Step)
	assert.Same(t, before, engine.Current())
}

func TestRestore(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	empty, engine := newPipeline(t, store, testConfig())
	require.NoError(t, empty.Restore(ctx))
	assert.False(t, engine.Current().IsTrained())

	seedLabeled(t, store, 100)
	trainer, _ := newPipeline(t, store, testConfig())
	_, err := trainer.Train(ctx, Options{})
	require.NoError(t, err)

	fresh, freshEngine := newPipeline(t, store, testConfig())
	require.NoError(t, fresh.Restore(ctx))

	state := freshEngine.Current()
	assert.True(t, state.IsTrained())
	assert.Equal(t, "v1", state.Version)
	assert.Equal(t, 100, state.Samples)
	require.NotNil(t, state.Metrics)
	assert.Equal(t, 20, state.Metrics.TestSize)
}

func TestTrain_Reclassify(t *testing.T) {
	store := newStore(t)
	seedLabeled(t, store, 120)
	cfg := testConfig()
	cfg.ReclassifyOnRetrain = true
	pipeline, _ := newPipeline(t, store, cfg)

	result, err := pipeline.Train(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 120, result.Reclassified)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, stats.Events)
	assert.Equal(t, 120, stats.LabeledEvents)
}

func TestScheduler(t *testing.T) {
	store := newStore(t)
	seedLabeled(t, store, 100)
	pipeline, engine := newPipeline(t, store, testConfig())

	_, err := NewScheduler(pipeline, "not a schedule")
	assert.Error(t, err)

	scheduler, err := NewScheduler(pipeline, "")
	require.NoError(t, err)
	require.NoError(t, scheduler.Start())

	assert.True(t, scheduler.TriggerAsync("test"))
	scheduler.Wait()
	assert.True(t, engine.Current().IsTrained())

	scheduler.running.Store(true)
	assert.False(t, scheduler.TriggerAsync("test"))
	scheduler.running.Store(false)

	scheduler.Stop()
}

func TestScheduler_WithCron(t *testing.T) {
	pipeline, _ := newPipeline(t, newStore(t), testConfig())
	scheduler, err := NewScheduler(pipeline, "0 3 * * *")
	require.NoError(t, err)
	require.NoError(t, scheduler.Start())
	assert.Len(t, scheduler.cron.Entries(), 1, fmt.Sprintf("%v", scheduler.cron.Entries()))
	scheduler.Stop()
}

func TestPrepare_NormalizesOverFullSet(t *testing.T) {
	sample := func(method models.InspectionMethod, p1 float64, label models.Label) models.LabeledSample {
		return models.LabeledSample{
			Method:      method,
			Date:        time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC),
			Param1:      &p1,
			DefectFound: true,
			Label:       label,
		}
	}
	samples := []models.LabeledSample{
		sample(models.MethodVIK, 0, models.LabelNormal),
		sample(models.MethodVIK, 10, models.LabelMedium),
		sample(models.MethodVIK, 20, models.LabelHigh),
		sample(models.MethodUT, 8, models.LabelNormal),
		sample(models.MethodVIK, 30, models.LabelHigh),
	}

	encoder, data := prepare(samples, []int{0, 1, 2, 3})
	assert.Equal(t, []string{"UT", "VIK"}, encoder.Classes)

	test := data.subset([]int{4})
	require.Len(t, test.rows, 1)
	assert.Equal(t, models.LabelHigh, test.truth[0])
	// VIK mean over all rows is 15, not the held-out row's own 30
	assert.InDelta(t, 2.0, test.rows[0].Vector[features.Param1Normalized], 1e-6)

	train := data.subset([]int{1, 3})
	assert.InDelta(t, 10.0/15.0, train.rows[0].Vector[features.Param1Normalized], 1e-6)
	assert.InDelta(t, 1.0, train.rows[1].Vector[features.Param1Normalized], 1e-6)
	assert.Equal(t, 30.0, test.rows[0].Param1)
}

type constantClassifier struct {
	label models.Label
}

func (c constantClassifier) Classify(criticality.Features) (models.Label, error) { return c.label, nil }

func (c constantClassifier) Probabilities(criticality.Features) (criticality.Distribution, bool, error) {
	return criticality.Distribution{}, false, nil
}

func (c constantClassifier) Strategy() models.Strategy { return models.StrategyTrained }

func (c constantClassifier) Version() string { return "test" }

func (c constantClassifier) Encoder() features.Encoder { return nil }

func TestScore_ForcesNormalWithoutDefect(t *testing.T) {
	vector := make(features.Vector, features.Width)
	data := dataset{
		rows: []criticality.Features{
			{Vector: vector, DefectFound: false},
			{Vector: vector, DefectFound: true},
			{Vector: vector, DefectFound: false},
		},
		truth: []models.Label{models.LabelNormal, models.LabelHigh, models.LabelNormal},
	}

	report, err := score(constantClassifier{label: models.LabelHigh}, data)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Accuracy)
	assert.Equal(t, [][]int{{2, 0, 0}, {0, 0, 0}, {0, 0, 1}}, report.ConfusionMatrix)
}
