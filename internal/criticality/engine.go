package criticality

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/evaluation"
	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

// State is an immutable view of the active model. A nil Trained means the
// engine falls back to rules.
type State struct {
	Trained  *Trained
	Metrics  *evaluation.Report
	Version  string
	Samples  int
	FittedAt time.Time
}

func (s *State) IsTrained() bool {
	return s != nil && s.Trained.fitted()
}

type Engine struct {
	rules *RuleBased
	state atomic.Pointer[State]
}

func NewEngine(rules *RuleBased) *Engine {
	e := &Engine{rules: rules}
	e.state.Store(&State{})
	return e
}

// Swap installs next and returns the state it replaced. Callers that already
// hold the previous state keep using it.
func (e *Engine) Swap(next *State) *State {
	prev := e.state.Swap(next)
	logger.Info("Criticality model swapped",
		zap.String("from", prev.Version),
		zap.String("to", next.Version),
		zap.Bool("trained", next.IsTrained()),
	)
	return prev
}

func (e *Engine) Current() *State {
	return e.state.Load()
}

func (e *Engine) Rules() *RuleBased {
	return e.rules
}

// Select picks the classifier for one batch: the trained model when present,
// the rules otherwise.
func (e *Engine) Select() Classifier {
	if s := e.Current(); s.IsTrained() {
		return Guard(s.Trained)
	}
	return Guard(e.rules)
}

// Guard wraps clf so events without a defect are always labeled normal.
func Guard(clf Classifier) Classifier {
	if g, ok := clf.(*guarded); ok {
		return g
	}
	return &guarded{inner: clf}
}

// guarded forces normal for events without a defect.
type guarded struct {
	inner Classifier
}

func (g *guarded) Classify(f Features) (models.Label, error) {
	if !f.DefectFound {
		return models.LabelNormal, nil
	}
	return g.inner.Classify(f)
}

func (g *guarded) Probabilities(f Features) (Distribution, bool, error) {
	d, ok, err := g.inner.Probabilities(f)
	if err != nil || !ok {
		return d, ok, err
	}
	if !f.DefectFound {
		return Distribution{1, 0, 0}, true, nil
	}
	return d, true, nil
}

func (g *guarded) Strategy() models.Strategy { return g.inner.Strategy() }

func (g *guarded) Version() string { return g.inner.Version() }

func (g *guarded) Encoder() features.Encoder { return g.inner.Encoder() }
