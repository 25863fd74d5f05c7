// Package criticality assigns a normal/medium/high label to inspection
// events, either from fixed rules or from a trained random forest.
package criticality

import (
	"time"

	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

// Distribution holds class probabilities in models.Labels order.
type Distribution [3]float64

type Features struct {
	Vector      features.Vector
	DefectFound bool
	Description string
	Param1      float64
	Param2      float64
}

type Classifier interface {
	Classify(f Features) (models.Label, error)
	// Probabilities reports ok=false for strategies that do not produce them.
	Probabilities(f Features) (Distribution, bool, error)
	Strategy() models.Strategy
	Version() string
	// Encoder is nil when the strategy does not use method codes.
	Encoder() features.Encoder
}

type Event struct {
	Input       features.Input
	Description string
}

type Prediction struct {
	Label         models.Label
	Probabilities *Distribution
	FeatureHash   string
}

// Prepare computes the feature set clf needs for every event.
func Prepare(clf Classifier, events []Event) []Features {
	return NewFeatures(events, clf.Encoder())
}

// NewFeatures transforms events as one batch, so per-method statistics cover
// all of them.
func NewFeatures(events []Event, enc features.Encoder) []Features {
	inputs := make([]features.Input, len(events))
	for i, e := range events {
		inputs[i] = e.Input
	}
	vectors := features.Transform(inputs, enc)

	out := make([]Features, len(events))
	for i, e := range events {
		out[i] = Features{
			Vector:      vectors[i],
			DefectFound: e.Input.DefectFound,
			Description: e.Description,
			Param1:      vectors[i][features.Param1],
			Param2:      vectors[i][features.Param2],
		}
	}
	return out
}

// Predict labels a whole batch with one classifier.
func Predict(clf Classifier, events []Event) ([]Prediction, error) {
	return Classify(clf, Prepare(clf, events))
}

// Classify labels prepared features.
func Classify(clf Classifier, prepared []Features) ([]Prediction, error) {
	out := make([]Prediction, len(prepared))
	for i, f := range prepared {
		label, err := clf.Classify(f)
		if err != nil {
			return nil, err
		}
		p := Prediction{Label: label, FeatureHash: f.Vector.Hash()}
		probs, ok, err := clf.Probabilities(f)
		if err != nil {
			return nil, err
		}
		if ok {
			p.Probabilities = &probs
		}
		out[i] = p
	}
	return out, nil
}

// AuditLog builds the prediction log row for one prediction.
func AuditLog(eventID *int64, pr Prediction, clf Classifier, batchID string, at time.Time) models.PredictionLog {
	entry := models.PredictionLog{
		EventExternalID: eventID,
		Label:           pr.Label,
		Strategy:        clf.Strategy(),
		ModelVersion:    clf.Version(),
		FeatureHash:     pr.FeatureHash,
		BatchID:         batchID,
		CreatedAt:       at,
	}
	if pr.Probabilities != nil {
		d := *pr.Probabilities
		entry.ProbNormal, entry.ProbMedium, entry.ProbHigh = &d[0], &d[1], &d[2]
	}
	return entry
}
