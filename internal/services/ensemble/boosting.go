package ensemble

import (
	"math"
	"math/rand"
)

// Boosting is gradient boosting of shallow regression trees on log-loss.
type Boosting struct {
	Rounds       int     `json:"rounds"`
	MaxDepth     int     `json:"max_depth"`
	MinLeaf      int     `json:"min_leaf"`
	LearningRate float64 `json:"learning_rate"`
	Init         float64 `json:"init"`
	Trees        []Tree  `json:"trees"`
}

// leafClamp bounds a single Newton step.
const leafClamp = 4.0

func (b *Boosting) Fit(X [][]float64, y []int, rng *rand.Rand) error {
	if err := checkLabels(X, y); err != nil {
		return err
	}
	if b.Rounds <= 0 {
		b.Rounds = 50
	}
	if b.LearningRate <= 0 {
		b.LearningRate = 0.1
	}
	n := len(X)
	pos := 0.0
	for _, v := range y {
		pos += float64(v)
	}
	prior := pos / float64(n)
	b.Init = math.Log(prior / (1 - prior))

	F := make([]float64, n)
	for i := range F {
		F[i] = b.Init
	}
	prob := make([]float64, n)
	resid := make([]float64, n)
	idx := allIndices(n)
	p := treeParams{maxDepth: b.MaxDepth, minLeaf: b.MinLeaf}

	trees := make([]Tree, 0, b.Rounds)
	for m := 0; m < b.Rounds; m++ {
		for i := range F {
			prob[i] = sigmoid(F[i])
			resid[i] = float64(y[i]) - prob[i]
		}
		newton := func(rows []int) float64 {
			var num, den float64
			for _, i := range rows {
				num += resid[i]
				den += prob[i] * (1 - prob[i])
			}
			if den < 1e-12 {
				return 0
			}
			return math.Max(-leafClamp, math.Min(leafClamp, num/den))
		}
		t := growTree(X, resid, idx, p, rng, newton)
		for i := range F {
			F[i] += b.LearningRate * t.Eval(X[i])
		}
		trees = append(trees, t)
	}
	b.Trees = trees
	if math.IsNaN(b.Init) || math.IsInf(b.Init, 0) {
		return errNonFinite
	}
	return nil
}

func (b *Boosting) PredictProba(x []float64) float64 {
	z := b.Init
	for i := range b.Trees {
		z += b.LearningRate * b.Trees[i].Eval(x)
	}
	return sigmoid(z)
}
