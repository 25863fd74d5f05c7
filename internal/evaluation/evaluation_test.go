package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

const (
	n = models.LabelNormal
	m = models.LabelMedium
	h = models.LabelHigh
)

func TestEvaluate_Perfect(t *testing.T) {
	y := []models.Label{n, m, h, n}

	r, err := Evaluate(y, y)
	require.NoError(t, err)

	assert.Equal(t, 1.0, r.Accuracy)
	assert.Equal(t, 1.0, r.F1Macro)
	assert.Equal(t, 1.0, r.F1Weighted)
	assert.Equal(t, [][]int{{2, 0, 0}, {0, 1, 0}, {0, 0, 1}}, r.ConfusionMatrix)
}

func TestEvaluate_Mixed(t *testing.T) {
	yTrue := []models.Label{n, n, n, m, m, h}
	yPred := []models.Label{n, n, m, m, h, h}

	r, err := Evaluate(yTrue, yPred)
	require.NoError(t, err)

	assert.InDelta(t, 4.0/6.0, r.Accuracy, 1e-9)
	assert.Equal(t, [][]int{{2, 1, 0}, {0, 1, 1}, {0, 0, 1}}, r.ConfusionMatrix)

	normal := r.PerClass["normal"]
	assert.InDelta(t, 1.0, normal.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, normal.Recall, 1e-9)
	assert.Equal(t, 3, normal.Support)

	high := r.PerClass["high"]
	assert.InDelta(t, 0.5, high.Precision, 1e-9)
	assert.InDelta(t, 1.0, high.Recall, 1e-9)

	assert.InDelta(t, (1.0+0.5+0.5)/3, r.PrecisionMacro, 1e-9)
	assert.InDelta(t, (2.0/3.0+0.5+1.0)/3, r.RecallMacro, 1e-9)
	assert.InDelta(t, (3*1.0+2*0.5+1*0.5)/6, r.PrecisionWeighted, 1e-9)
}

func TestEvaluate_ZeroDivisionAndAbsentLabels(t *testing.T) {
	yTrue := []models.Label{n, n, m}
	yPred := []models.Label{n, n, n}

	r, err := Evaluate(yTrue, yPred)
	require.NoError(t, err)

	assert.Equal(t, 0.0, r.PerClass["medium"].Precision)
	assert.Equal(t, 0.0, r.PerClass["medium"].F1)
	assert.Equal(t, ClassMetrics{}, r.PerClass["high"])
	// high appears nowhere, so the macro average covers normal and medium only
	assert.InDelta(t, 0.4, r.F1Macro, 1e-9)
	assert.Len(t, r.ConfusionMatrix, 3)
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate([]models.Label{n}, nil)
	assert.Error(t, err)

	_, err = Evaluate([]models.Label{"bogus"}, []models.Label{n})
	assert.Error(t, err)
}

func TestMacroF1(t *testing.T) {
	yTrue := []models.Label{n, n, n, m, m, h}
	yPred := []models.Label{n, n, m, m, h, h}

	got, err := MacroF1(yTrue, yPred)
	require.NoError(t, err)
	r, err := Evaluate(yTrue, yPred)
	require.NoError(t, err)
	assert.Equal(t, r.F1Macro, got)

	_, err = MacroF1(yTrue, yPred[:2])
	assert.Error(t, err)
}

func TestSetCrossValidation(t *testing.T) {
	r := &Report{}
	r.SetCrossValidation([]float64{0.8, 0.9, 1.0, 0.9, 0.9})

	assert.Equal(t, 5, r.CVFolds)
	assert.InDelta(t, 0.9, r.CVF1Mean, 1e-9)
	assert.InDelta(t, 0.0632455, r.CVF1Std, 1e-6)
}

func labels(counts ...int) []int {
	var y []int
	for c, count := range counts {
		for i := 0; i < count; i++ {
			y = append(y, c)
		}
	}
	return y
}

func TestStratifiedSplit_HundredRows(t *testing.T) {
	y := labels(60, 25, 15)

	train, test, err := StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)

	assert.Len(t, train, 80)
	assert.Len(t, test, 20)

	perClass := make([]int, 3)
	for _, i := range test {
		perClass[y[i]]++
	}
	assert.Equal(t, []int{12, 5, 3}, perClass)

	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, train...), test...) {
		assert.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 100)
}

func TestStratifiedSplit_CeilsTestSize(t *testing.T) {
	y := labels(51, 50)

	train, test, err := StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test, 21)
	assert.Len(t, train, 80)
}

func TestStratifiedSplit_Deterministic(t *testing.T) {
	y := labels(40, 30, 30)

	a1, b1, err := StratifiedSplit(y, 0.25, 7)
	require.NoError(t, err)
	a2, b2, err := StratifiedSplit(y, 0.25, 7)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
}

func TestStratifiedSplit_Errors(t *testing.T) {
	_, _, err := StratifiedSplit(labels(10, 1), 0.2, 42)
	assert.ErrorIs(t, err, ErrCannotStratify)

	_, _, err = StratifiedSplit(labels(10, 10), 1.5, 42)
	assert.Error(t, err)
}

func TestRandomSplit(t *testing.T) {
	train, test, err := RandomSplit(10, 0.2, 1)
	require.NoError(t, err)
	assert.Len(t, train, 8)
	assert.Len(t, test, 2)

	_, _, err = RandomSplit(1, 0.5, 1)
	assert.Error(t, err)
}

func TestStratifiedKFold(t *testing.T) {
	y := labels(10, 5, 5)

	folds, err := StratifiedKFold(y, 5)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	total := 0
	for _, fold := range folds {
		assert.Len(t, fold, 4)
		classes := make([]int, 3)
		for _, i := range fold {
			classes[y[i]]++
		}
		assert.Equal(t, []int{2, 1, 1}, classes)
		total += len(fold)
		assert.Len(t, Complement(len(y), fold), 16)
	}
	assert.Equal(t, 20, total)

	_, err = StratifiedKFold(y, 1)
	assert.Error(t, err)
	_, err = StratifiedKFold([]int{0, 1}, 5)
	assert.Error(t, err)
}

func TestGenerateReport(t *testing.T) {
	r, err := Evaluate([]models.Label{n, m, h}, []models.Label{n, m, m})
	require.NoError(t, err)
	r.TrainSize, r.TestSize = 80, 20
	r.SetCrossValidation([]float64{0.5, 0.7})

	out := GenerateReport(r)
	assert.Contains(t, out, "Samples: 80 train / 20 test")
	assert.Contains(t, out, "Cross-Validation (2 folds)")
	assert.Contains(t, out, "high")
}
