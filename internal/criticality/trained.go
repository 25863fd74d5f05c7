package criticality

import (
	"encoding/json"
	"fmt"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/evaluation"
	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/forest"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

type Trained struct {
	version string
	encoder *MethodEncoder
	scaler  *Scaler
	forest  *forest.Forest
}

func NewTrained(version string, encoder *MethodEncoder, scaler *Scaler, f *forest.Forest) *Trained {
	return &Trained{version: version, encoder: encoder, scaler: scaler, forest: f}
}

// WithVersion returns a copy of t labelled with version.
func (t *Trained) WithVersion(version string) *Trained {
	c := *t
	c.version = version
	return &c
}

func (t *Trained) fitted() bool {
	return t != nil && t.encoder != nil && t.scaler != nil && t.forest != nil
}

func (t *Trained) Probabilities(f Features) (Distribution, bool, error) {
	if !t.fitted() {
		return Distribution{}, false, apperrors.ErrUntrained
	}
	var d Distribution
	copy(d[:], t.forest.PredictProba(t.scaler.Transform(f.Vector)))
	return d, true, nil
}

func (t *Trained) Classify(f Features) (models.Label, error) {
	d, _, err := t.Probabilities(f)
	if err != nil {
		return "", err
	}
	return models.Labels[forest.Argmax(d[:])], nil
}

func (t *Trained) Strategy() models.Strategy { return models.StrategyTrained }

func (t *Trained) Version() string {
	if t == nil {
		return ""
	}
	return t.version
}

func (t *Trained) Encoder() features.Encoder {
	if t == nil || t.encoder == nil {
		return nil
	}
	return t.encoder
}

func (t *Trained) Methods() []string {
	if t == nil || t.encoder == nil {
		return nil
	}
	return t.encoder.Classes
}

// Importances pairs feature names with the forest's impurity importances.
func (t *Trained) Importances() map[string]float64 {
	if !t.fitted() {
		return nil
	}
	names := features.Names()
	out := make(map[string]float64, len(names))
	for i, v := range t.forest.Importances {
		if i < len(names) {
			out[names[i]] = v
		}
	}
	return out
}

// Snapshot serializes a fitted model for persistence.
func Snapshot(t *Trained, report *evaluation.Report, sequence int64, samples int) (*models.ModelSnapshot, error) {
	if !t.fitted() {
		return nil, apperrors.ErrUntrained
	}
	snap := &models.ModelSnapshot{Version: t.version, Sequence: sequence, Samples: samples}

	parts := []struct {
		dst *[]byte
		src any
		doc string
	}{
		{&snap.Metrics, report, "metrics"},
		{&snap.Encoder, t.encoder, "encoder"},
		{&snap.Scaler, t.scaler, "scaler"},
		{&snap.Forest, t.forest, "forest"},
	}
	for _, p := range parts {
		data, err := json.Marshal(p.src)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", p.doc, err)
		}
		*p.dst = data
	}
	return snap, nil
}

// Restore rebuilds the classifier and its report from a snapshot.
func Restore(snap *models.ModelSnapshot) (*Trained, *evaluation.Report, error) {
	t := &Trained{
		version: snap.Version,
		encoder: &MethodEncoder{},
		scaler:  &Scaler{},
		forest:  &forest.Forest{},
	}
	report := &evaluation.Report{}

	parts := []struct {
		src []byte
		dst any
		doc string
	}{
		{snap.Metrics, report, "metrics"},
		{snap.Encoder, t.encoder, "encoder"},
		{snap.Scaler, t.scaler, "scaler"},
		{snap.Forest, t.forest, "forest"},
	}
	for _, p := range parts {
		if err := json.Unmarshal(p.src, p.dst); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal %s of %s: %w", p.doc, snap.Version, err)
		}
	}
	if len(t.forest.Trees) == 0 {
		return nil, nil, fmt.Errorf("snapshot %s has no trees", snap.Version)
	}
	return t, report, nil
}
