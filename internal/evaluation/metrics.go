// Package evaluation scores criticality predictions against known labels and
// produces the train/test partitions used by the training pipeline.
package evaluation

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

type Report struct {
	Accuracy          float64                 `json:"accuracy"`
	PrecisionMacro    float64                 `json:"precision_macro"`
	RecallMacro       float64                 `json:"recall_macro"`
	F1Macro           float64                 `json:"f1_macro"`
	PrecisionWeighted float64                 `json:"precision_weighted"`
	RecallWeighted    float64                 `json:"recall_weighted"`
	F1Weighted        float64                 `json:"f1_weighted"`
	PerClass          map[string]ClassMetrics `json:"per_class"`
	// ConfusionMatrix rows are true labels, columns predicted, both in
	// models.Labels order.
	ConfusionMatrix [][]int `json:"confusion_matrix"`
	CVF1Mean        float64 `json:"cv_f1_mean"`
	CVF1Std         float64 `json:"cv_f1_std"`
	CVFolds         int     `json:"cv_folds"`
	TrainSize       int     `json:"train_size"`
	TestSize        int     `json:"test_size"`
}

// Evaluate compares predictions with the truth. Undefined ratios are 0.
// Macro averages cover the labels seen in either slice.
func Evaluate(yTrue, yPred []models.Label) (*Report, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("truth (%d) and predictions (%d) differ in length", len(yTrue), len(yPred))
	}

	k := len(models.Labels)
	cm := make([][]int, k)
	for i := range cm {
		cm[i] = make([]int, k)
	}

	correct := 0
	for i := range yTrue {
		t, p := yTrue[i].Index(), yPred[i].Index()
		if t < 0 || p < 0 {
			return nil, fmt.Errorf("row %d has unknown label (%q, %q)", i, yTrue[i], yPred[i])
		}
		cm[t][p]++
		if t == p {
			correct++
		}
	}

	report := &Report{
		PerClass:        make(map[string]ClassMetrics, k),
		ConfusionMatrix: cm,
	}
	if len(yTrue) > 0 {
		report.Accuracy = float64(correct) / float64(len(yTrue))
	}

	var precisions, recalls, f1s, supports []float64
	for c, label := range models.Labels {
		tp := cm[c][c]
		predicted, actual := 0, 0
		for j := 0; j < k; j++ {
			predicted += cm[j][c]
			actual += cm[c][j]
		}

		m := ClassMetrics{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, actual),
			Support:   actual,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.PerClass[string(label)] = m

		if predicted == 0 && actual == 0 {
			continue
		}
		precisions = append(precisions, m.Precision)
		recalls = append(recalls, m.Recall)
		f1s = append(f1s, m.F1)
		supports = append(supports, float64(actual))
	}

	if len(f1s) > 0 {
		report.PrecisionMacro = stat.Mean(precisions, nil)
		report.RecallMacro = stat.Mean(recalls, nil)
		report.F1Macro = stat.Mean(f1s, nil)
	}
	if total := floats.Sum(supports); total > 0 {
		report.PrecisionWeighted = floats.Dot(precisions, supports) / total
		report.RecallWeighted = floats.Dot(recalls, supports) / total
		report.F1Weighted = floats.Dot(f1s, supports) / total
	}

	return report, nil
}

// MacroF1 is the cross-validation score.
func MacroF1(yTrue, yPred []models.Label) (float64, error) {
	r, err := Evaluate(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return r.F1Macro, nil
}

// SetCrossValidation records fold scores as mean and population std.
func (r *Report) SetCrossValidation(scores []float64) {
	r.CVFolds = len(scores)
	if len(scores) == 0 {
		return
	}
	r.CVF1Mean, r.CVF1Std = stat.PopMeanStdDev(scores, nil)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
