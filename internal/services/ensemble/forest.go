package ensemble

import (
	"math"
	"math/rand"
)

// Forest is a bagged random forest, or extra-trees when RandomSplits is set.
type Forest struct {
	NumTrees     int    `json:"num_trees"`
	MaxDepth     int    `json:"max_depth"`
	MinLeaf      int    `json:"min_leaf"`
	Bootstrap    bool   `json:"bootstrap"`
	RandomSplits bool   `json:"random_splits"`
	Trees        []Tree `json:"trees"`
}

func (f *Forest) Fit(X [][]float64, y []int, rng *rand.Rand) error {
	if err := checkLabels(X, y); err != nil {
		return err
	}
	if f.NumTrees <= 0 {
		f.NumTrees = 25
	}
	target := floatLabels(y)
	p := treeParams{
		maxDepth:     f.MaxDepth,
		minLeaf:      f.MinLeaf,
		maxFeatures:  int(math.Max(1, math.Round(math.Sqrt(float64(len(X[0])))))),
		randomSplits: f.RandomSplits,
	}
	trees := make([]Tree, 0, f.NumTrees)
	for t := 0; t < f.NumTrees; t++ {
		idx := allIndices(len(X))
		if f.Bootstrap {
			for i := range idx {
				idx[i] = rng.Intn(len(X))
			}
		}
		trees = append(trees, growTree(X, target, idx, p, rng, nil))
	}
	f.Trees = trees
	return nil
}

func (f *Forest) PredictProba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0.5
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Eval(x)
	}
	return sum / float64(len(f.Trees))
}
