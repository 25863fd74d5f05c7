// Package forest is a random forest classifier over dense float features:
// bootstrap-sampled CART trees split on Gini impurity, with probabilities
// averaged across trees.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	// MaxFeatures of 0 means sqrt(width).
	MaxFeatures int
	Seed        int64
	Workers     int
}

func DefaultConfig() Config {
	return Config{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		Seed:            42,
		Workers:         runtime.NumCPU(),
	}
}

type Forest struct {
	Classes     int       `json:"classes"`
	Width       int       `json:"width"`
	Trees       []Tree    `json:"trees"`
	Importances []float64 `json:"importances"`
}

var ErrEmptyTrainingSet = errors.New("empty training set")

// Fit trains a forest on x with labels y in [0, classes). The result depends
// only on the inputs and cfg.Seed.
func Fit(ctx context.Context, x [][]float64, y []int, classes int, cfg Config) (*Forest, error) {
	if len(x) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("feature rows (%d) and labels (%d) differ", len(x), len(y))
	}
	width := len(x[0])
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}
	for i, label := range y {
		if label < 0 || label >= classes {
			return nil, fmt.Errorf("row %d has label %d outside [0, %d)", i, label, classes)
		}
	}

	if cfg.Trees <= 0 {
		cfg.Trees = 1
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = math.MaxInt32
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MaxFeatures <= 0 || cfg.MaxFeatures > width {
		cfg.MaxFeatures = max(1, int(math.Sqrt(float64(width))))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	trees := make([]Tree, cfg.Trees)
	importances := make([][]float64, cfg.Trees)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < cfg.Trees; i++ {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("tree %d: panic: %v", i, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
			rows := make([]int, len(x))
			for j := range rows {
				rows[j] = rng.Intn(len(x))
			}
			b := &builder{
				x:           x,
				y:           y,
				classes:     classes,
				maxDepth:    cfg.MaxDepth,
				minSplit:    cfg.MinSamplesSplit,
				maxFeatures: cfg.MaxFeatures,
				rng:         rng,
				importance:  make([]float64, width),
			}
			b.build(rows, 0)
			trees[i] = b.tree
			importances[i] = b.importance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to grow trees: %w", err)
	}

	return &Forest{
		Classes:     classes,
		Width:       width,
		Trees:       trees,
		Importances: mergeImportances(importances, width),
	}, nil
}

// PredictProba averages the leaf distributions of every tree.
func (f *Forest) PredictProba(x []float64) []float64 {
	out := make([]float64, f.Classes)
	if len(f.Trees) == 0 {
		return out
	}
	for i := range f.Trees {
		for c, p := range f.Trees[i].leaf(x) {
			out[c] += p
		}
	}
	for c := range out {
		out[c] /= float64(len(f.Trees))
	}
	return out
}

// Predict returns the most probable class. Ties go to the lowest index.
func (f *Forest) Predict(x []float64) int {
	return Argmax(f.PredictProba(x))
}

func Argmax(p []float64) int {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

func mergeImportances(perTree [][]float64, width int) []float64 {
	out := make([]float64, width)
	for _, imp := range perTree {
		total := 0.0
		for _, v := range imp {
			total += v
		}
		if total == 0 {
			continue
		}
		for i, v := range imp {
			out[i] += v / total
		}
	}
	total := 0.0
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out
}
