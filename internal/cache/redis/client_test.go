package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/circuitbreaker"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := newClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestPredictionRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	key := PredictionKey("v3", "abc", "коррозия")

	_, ok, err := c.GetPrediction(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	probs := criticality.Distribution{0.1, 0.2, 0.7}
	want := &CachedPrediction{
		Label:         models.LabelHigh,
		Strategy:      models.StrategyTrained,
		ModelVersion:  "v3",
		Probabilities: &probs,
		FeatureHash:   "abc",
	}
	require.NoError(t, c.SetPrediction(ctx, key, want))

	got, ok, err := c.GetPrediction(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.GetPrediction(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "entries expire after the ttl")
}

func TestPredictionKey(t *testing.T) {
	a := PredictionKey("v1", "hash", "")
	assert.NotEqual(t, a, PredictionKey("v2", "hash", ""))
	assert.NotEqual(t, a, PredictionKey("v1", "hash", "crack"))
	assert.Contains(t, a, "prediction:v1:")
}

func TestInvalidatePredictions(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetPrediction(ctx, PredictionKey("v1", "a", ""), &CachedPrediction{Label: models.LabelNormal}))
	require.NoError(t, c.SetPrediction(ctx, PredictionKey("v1", "b", ""), &CachedPrediction{Label: models.LabelMedium}))
	require.NoError(t, mr.Set("other", "keep"))

	require.NoError(t, c.InvalidatePredictions(ctx))

	assert.Len(t, mr.Keys(), 1)
	assert.True(t, mr.Exists("other"))
}

func TestBreakerOpensWhenRedisIsDown(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	mr.Close()

	for i := 0; i < 5; i++ {
		_, _, err := c.GetPrediction(ctx, "prediction:x")
		assert.Error(t, err)
	}

	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())
	_, _, err := c.GetPrediction(ctx, "prediction:x")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}
