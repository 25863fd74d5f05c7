package evaluation

import (
	"fmt"
	"strings"

	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

func GenerateReport(report *Report) string {
	var perClass strings.Builder
	for _, label := range models.Labels {
		m := report.PerClass[string(label)]
		fmt.Fprintf(&perClass, "- %-7s precision %.3f  recall %.3f  f1 %.3f  (support %d)\n",
			label, m.Precision, m.Recall, m.F1, m.Support)
	}

	var matrix strings.Builder
	matrix.WriteString("           normal  medium    high\n")
	for i, label := range models.Labels {
		fmt.Fprintf(&matrix, "%-8s", label)
		if i < len(report.ConfusionMatrix) {
			for _, v := range report.ConfusionMatrix[i] {
				fmt.Fprintf(&matrix, "%8d", v)
			}
		}
		matrix.WriteString("\n")
	}

	return fmt.Sprintf(`
Training Report
===============

Samples: %d train / %d test

Scores:
- Accuracy: %.3f
- Precision (macro / weighted): %.3f / %.3f
- Recall (macro / weighted): %.3f / %.3f
- F1 (macro / weighted): %.3f / %.3f

Per Class:
%s
Confusion Matrix (rows = true, columns = predicted):
%s
Cross-Validation (%d folds): F1 macro %.3f ± %.3f
`,
		report.TrainSize, report.TestSize,
		report.Accuracy,
		report.PrecisionMacro, report.PrecisionWeighted,
		report.RecallMacro, report.RecallWeighted,
		report.F1Macro, report.F1Weighted,
		perClass.String(),
		matrix.String(),
		report.CVFolds, report.CVF1Mean, report.CVF1Std,
	)
}
