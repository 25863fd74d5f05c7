package forest

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threshold data: class depends on the first feature only.
func separable(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		v := rng.Float64() * 30
		x[i] = []float64{v, rng.Float64(), rng.Float64()}
		switch {
		case v >= 20:
			y[i] = 2
		case v >= 10:
			y[i] = 1
		}
	}
	return x, y
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Trees = 15
	cfg.MaxFeatures = 3
	cfg.Workers = 4
	return cfg
}

func TestFit_LearnsThresholds(t *testing.T) {
	x, y := separable(300, 1)

	f, err := Fit(context.Background(), x, y, 3, smallConfig())
	require.NoError(t, err)

	assert.Equal(t, 0, f.Predict([]float64{2, 0.5, 0.5}))
	assert.Equal(t, 1, f.Predict([]float64{15, 0.5, 0.5}))
	assert.Equal(t, 2, f.Predict([]float64{28, 0.5, 0.5}))

	p := f.PredictProba([]float64{28, 0.5, 0.5})
	require.Len(t, p, 3)
	assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-9)

	assert.Greater(t, f.Importances[0], f.Importances[1])
}

func TestFit_DeterministicAcrossWorkerCounts(t *testing.T) {
	x, y := separable(120, 7)

	cfg := smallConfig()
	cfg.MaxFeatures = 0
	cfg.Workers = 1
	a, err := Fit(context.Background(), x, y, 3, cfg)
	require.NoError(t, err)

	cfg.Workers = 8
	b, err := Fit(context.Background(), x, y, 3, cfg)
	require.NoError(t, err)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.JSONEq(t, string(ja), string(jb))
}

func TestFit_SingleClassIsOneLeaf(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}}
	y := []int{1, 1, 1}

	f, err := Fit(context.Background(), x, y, 3, smallConfig())
	require.NoError(t, err)

	for _, tree := range f.Trees {
		assert.Len(t, tree.Nodes, 1)
	}
	assert.Equal(t, []float64{0, 1, 0}, f.PredictProba([]float64{10}))
}

func TestFit_MaxDepthBoundsTree(t *testing.T) {
	x, y := separable(200, 3)
	cfg := smallConfig()
	cfg.MaxDepth = 1

	f, err := Fit(context.Background(), x, y, 3, cfg)
	require.NoError(t, err)
	for _, tree := range f.Trees {
		assert.LessOrEqual(t, len(tree.Nodes), 3)
	}
}

func TestFit_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := Fit(ctx, nil, nil, 3, smallConfig())
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)

	_, err = Fit(ctx, [][]float64{{1}}, []int{0, 1}, 3, smallConfig())
	assert.Error(t, err)

	_, err = Fit(ctx, [][]float64{{1}, {1, 2}}, []int{0, 1}, 3, smallConfig())
	assert.Error(t, err)

	_, err = Fit(ctx, [][]float64{{1}}, []int{5}, 3, smallConfig())
	assert.Error(t, err)
}

func TestFit_Cancelled(t *testing.T) {
	x, y := separable(50, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fit(ctx, x, y, 3, smallConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArgmax_TiesGoLow(t *testing.T) {
	assert.Equal(t, 0, Argmax([]float64{0.4, 0.4, 0.2}))
	assert.Equal(t, 2, Argmax([]float64{0.1, 0.2, 0.7}))
}
