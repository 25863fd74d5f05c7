package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{Driver: "sqlite3", DSN: ":memory:"},
		Ingestion: config.IngestionConfig{RoutePolicy: "create", AutoTrain: true},
		Criticality: config.CriticalityConfig{
			HighParam1:       20,
			HighParam2:       50,
			MediumParam1:     10,
			MediumParam2:     20,
			CriticalKeywords: config.DefaultCriticalKeywords,
			MediumKeywords:   config.DefaultMediumKeywords,
		},
		Training: config.TrainingConfig{MinSamples: 100, TestSize: 0.2, RandomState: 42, CVFolds: 5, Trees: 10, MaxDepth: 10, MinSamplesSplit: 2, Workers: 2},
	}
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Cache)
	assert.Equal(t, models.StrategyRuleBased, a.Engine.Select().Strategy())

	stats, err := a.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Assets)
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Training.Schedule = "every tuesday"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Redis = config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1, TTLSec: 60}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Cache, "an unreachable cache is skipped")
}
