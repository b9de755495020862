package ensemble

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Member names. They double as the persisted kind of each classifier.
const (
	RandomForest     = "random_forest"
	ExtraTrees       = "extra_trees"
	GradientBoosting = "gradient_boosting"
	LogisticModel    = "logistic"
)

var (
	errSingleClass = errors.New("training labels contain a single class")
	errTooFewRows  = errors.New("too few training rows")
	errNonFinite   = errors.New("non-finite model output")
)

// Classifier estimates P(y=1 | x) on standardized inputs.
type Classifier interface {
	Fit(X [][]float64, y []int, rng *rand.Rand) error
	PredictProba(x []float64) float64
}

// checkLabels rejects training sets a binary classifier cannot learn from.
func checkLabels(X [][]float64, y []int) error {
	if len(X) < 2 || len(X) != len(y) {
		return errTooFewRows
	}
	pos := 0
	for _, v := range y {
		if v == 1 {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return errSingleClass
	}
	for _, row := range X {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errNonFinite
			}
		}
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z > 20 {
		return 1
	}
	if z < -20 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func floatLabels(y []int) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = float64(v)
	}
	return out
}

// newClassifier builds an untrained member of the given kind.
func newClassifier(kind string, cfg Config) (Classifier, error) {
	switch kind {
	case RandomForest:
		return &Forest{NumTrees: cfg.Forest.Trees, MaxDepth: cfg.Forest.MaxDepth, MinLeaf: cfg.Forest.MinLeaf, Bootstrap: true}, nil
	case ExtraTrees:
		return &Forest{NumTrees: cfg.ExtraTrees.Trees, MaxDepth: cfg.ExtraTrees.MaxDepth, MinLeaf: cfg.ExtraTrees.MinLeaf, RandomSplits: true}, nil
	case GradientBoosting:
		return &Boosting{Rounds: cfg.Boosting.Rounds, MaxDepth: cfg.Boosting.MaxDepth, MinLeaf: cfg.Boosting.MinLeaf, LearningRate: cfg.Boosting.LearningRate}, nil
	case LogisticModel:
		return &Logistic{LearningRate: cfg.Logistic.LearningRate, Epochs: cfg.Logistic.Epochs, L2: cfg.Logistic.L2}, nil
	}
	return nil, fmt.Errorf("unknown ensemble member %q", kind)
}
