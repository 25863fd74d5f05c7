package parser

import (
	"strings"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/tabular"
)

type Kind string

const (
	KindAsset Kind = "asset"
	KindEvent Kind = "event"
)

const minVocabularyMatches = 3

var assetVocabulary = []string{"object_id", "object_name", "object_type", "lat", "lon", "pipeline_id"}

var eventVocabulary = []string{"diag_id", "method", "defect_found", "defect_description", "param1", "param2"}

// DetectKind guesses what a source holds from its column names.
func DetectKind(t *tabular.Table) (Kind, error) {
	assetScore := vocabularyScore(t.Columns, assetVocabulary)
	eventScore := vocabularyScore(t.Columns, eventVocabulary)

	switch {
	case assetScore >= minVocabularyMatches && assetScore > eventScore:
		return KindAsset, nil
	case eventScore >= minVocabularyMatches:
		return KindEvent, nil
	}

	// Weak signal: fall back on the most distinctive column fragments.
	joined := strings.Join(t.Columns, " ")
	switch {
	case strings.Contains(joined, "lat") && strings.Contains(joined, "lon"):
		return KindAsset, nil
	case strings.Contains(joined, "diag") || strings.Contains(joined, "method"):
		return KindEvent, nil
	}

	return "", &apperrors.SchemaError{
		Source: t.Name,
		Reason: "columns match neither the asset nor the inspection vocabulary",
	}
}

func vocabularyScore(columns, vocabulary []string) int {
	score := 0
	for _, word := range vocabulary {
		for _, c := range columns {
			if strings.Contains(c, word) {
				score++
				break
			}
		}
	}
	return score
}

func requireColumns(t *tabular.Table, required []string) error {
	var missing []string
	for _, c := range required {
		if t.Index(c) < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &apperrors.SchemaError{Source: t.Name, Missing: missing}
	}
	return nil
}
