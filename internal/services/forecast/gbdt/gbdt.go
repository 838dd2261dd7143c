// Package gbdt fits gradient-boosted regression trees with squared loss.
//
// Trees grow leaf-wise: at every step the leaf with the largest loss
// reduction is split, until the leaf budget is used or no split helps.
// Each tree sees a random row subsample and a random column subset drawn
// from a seeded source, so a fit is reproducible for fixed inputs.
package gbdt

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Params controls boosting and tree growth.
type Params struct {
	NumTrees        int     `yaml:"num_trees"`
	LearningRate    float64 `yaml:"learning_rate"`
	NumLeaves       int     `yaml:"num_leaves"`
	MaxDepth        int     `yaml:"max_depth"` // <= 0 means unlimited
	MinChildSamples int     `yaml:"min_child_samples"`
	Subsample       float64 `yaml:"subsample"`
	ColSample       float64 `yaml:"colsample"`
	L1              float64 `yaml:"reg_alpha"`
	L2              float64 `yaml:"reg_lambda"`
	MinGain         float64 `yaml:"min_gain"`
	Seed            int64   `yaml:"seed"`
}

// DefaultParams returns the settings used for daily price changes.
func DefaultParams() Params {
	return Params{
		NumTrees:        500,
		LearningRate:    0.05,
		NumLeaves:       31,
		MaxDepth:        -1,
		MinChildSamples: 20,
		Subsample:       0.9,
		ColSample:       0.9,
		Seed:            42,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.NumTrees < 1:
		return fmt.Errorf("num_trees must be >= 1, got %d", p.NumTrees)
	case p.LearningRate <= 0:
		return fmt.Errorf("learning_rate must be > 0, got %g", p.LearningRate)
	case p.NumLeaves < 2:
		return fmt.Errorf("num_leaves must be >= 2, got %d", p.NumLeaves)
	case p.MinChildSamples < 1:
		return fmt.Errorf("min_child_samples must be >= 1, got %d", p.MinChildSamples)
	case p.Subsample <= 0 || p.Subsample > 1:
		return fmt.Errorf("subsample must be in (0, 1], got %g", p.Subsample)
	case p.ColSample <= 0 || p.ColSample > 1:
		return fmt.Errorf("colsample must be in (0, 1], got %g", p.ColSample)
	case p.L1 < 0 || p.L2 < 0:
		return errors.New("regularisation must be non-negative")
	}
	return nil
}

// Model is a fitted ensemble.
type Model struct {
	base      float64
	lr        float64
	trees     []tree
	nFeatures int
}

// NumFeatures returns the width of the training rows.
func (m *Model) NumFeatures() int { return m.nFeatures }

// NumTrees returns the number of fitted trees.
func (m *Model) NumTrees() int { return len(m.trees) }

// Predict returns the model output for one row.
func (m *Model) Predict(x []float64) float64 {
	out := m.base
	for i := range m.trees {
		out += m.lr * m.trees[i].predict(x)
	}
	return out
}

// Fit trains a model on rows X and targets y.
func Fit(X [][]float64, y []float64, p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("gbdt: need matching non-empty X and y, got %d and %d", n, len(y))
	}
	nf := len(X[0])
	if nf == 0 {
		return nil, errors.New("gbdt: rows have no features")
	}
	for i, row := range X {
		if len(row) != nf {
			return nil, fmt.Errorf("gbdt: row %d has %d features, want %d", i, len(row), nf)
		}
	}

	base := 0.0
	for _, v := range y {
		base += v
	}
	base /= float64(n)

	g := &grower{
		X:      X,
		p:      p,
		order:  presort(X),
		grad:   make([]float64, n),
		inBag:  make([]bool, n),
		leafOf: make([]int, n),
		rng:    rand.New(rand.NewSource(p.Seed)),
	}

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}

	m := &Model{base: base, lr: p.LearningRate, nFeatures: nf, trees: make([]tree, 0, p.NumTrees)}
	for it := 0; it < p.NumTrees; it++ {
		for i := range g.grad {
			g.grad[i] = pred[i] - y[i]
		}
		t := g.growTree()
		for i := range pred {
			pred[i] += p.LearningRate * t.predict(X[i])
		}
		m.trees = append(m.trees, t)
	}
	return m, nil
}

// presort returns, per feature, row indices ordered by that feature's value.
func presort(X [][]float64) [][]int {
	nf := len(X[0])
	order := make([][]int, nf)
	for f := 0; f < nf; f++ {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return X[idx[a]][f] < X[idx[b]][f] })
		order[f] = idx
	}
	return order
}

// thresholdL1 applies soft thresholding for the L1 penalty.
func thresholdL1(s, l1 float64) float64 {
	if l1 <= 0 {
		return s
	}
	r := math.Abs(s) - l1
	if r <= 0 {
		return 0
	}
	return math.Copysign(r, s)
}

func leafScore(sumG, cnt float64, p Params) float64 {
	t := thresholdL1(sumG, p.L1)
	return t * t / (cnt + p.L2)
}

func leafValue(sumG, cnt float64, p Params) float64 {
	return -thresholdL1(sumG, p.L1) / (cnt + p.L2)
}
