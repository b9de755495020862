package ensemble

import (
	"math"
	"math/rand"
	"sort"
)

// node is a flattened tree node. Feature < 0 marks a leaf.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a binary regression tree. On 0/1 targets the variance criterion equals Gini.
type Tree struct {
	Nodes []node `json:"nodes"`
}

// Eval walks the tree for x and returns the leaf value.
func (t *Tree) Eval(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 || n.Feature >= len(x) {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeParams struct {
	maxDepth     int
	minLeaf      int
	maxFeatures  int
	randomSplits bool
}

// leafFunc computes the value stored in a leaf holding rows idx.
type leafFunc func(idx []int) float64

type treeBuilder struct {
	X      [][]float64
	target []float64
	p      treeParams
	rng    *rand.Rand
	leaf   leafFunc
	tree   Tree
}

func growTree(X [][]float64, target []float64, idx []int, p treeParams, rng *rand.Rand, leaf leafFunc) Tree {
	if p.minLeaf < 1 {
		p.minLeaf = 1
	}
	if p.maxDepth < 1 {
		p.maxDepth = 1
	}
	if leaf == nil {
		leaf = func(idx []int) float64 { return meanOf(target, idx) }
	}
	b := &treeBuilder{X: X, target: target, p: p, rng: rng, leaf: leaf}
	b.build(idx, 0)
	return b.tree
}

func (b *treeBuilder) build(idx []int, depth int) int {
	pos := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, node{Feature: -1, Value: b.leaf(idx)})
	if depth >= b.p.maxDepth || len(idx) < 2*b.p.minLeaf || b.pure(idx) {
		return pos
	}
	f, thr, ok := b.bestSplit(idx)
	if !ok {
		return pos
	}
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.X[i][f] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return pos
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[pos].Feature = f
	b.tree.Nodes[pos].Threshold = thr
	b.tree.Nodes[pos].Left = l
	b.tree.Nodes[pos].Right = r
	return pos
}

func (b *treeBuilder) pure(idx []int) bool {
	first := b.target[idx[0]]
	for _, i := range idx[1:] {
		if b.target[i] != first {
			return false
		}
	}
	return true
}

func (b *treeBuilder) candidateFeatures() []int {
	d := len(b.X[0])
	k := b.p.maxFeatures
	if k <= 0 || k > d {
		k = d
	}
	return b.rng.Perm(d)[:k]
}

// bestSplit returns the feature and threshold with the largest SSE reduction.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	parent := sse(b.target, idx)
	bestGain, bestF, bestT := 1e-12, -1, 0.0
	for _, f := range b.candidateFeatures() {
		var thr, cost float64
		var ok bool
		if b.p.randomSplits {
			thr, cost, ok = b.randomSplit(idx, f)
		} else {
			thr, cost, ok = b.exactSplit(idx, f)
		}
		if ok && parent-cost > bestGain {
			bestGain, bestF, bestT = parent-cost, f, thr
		}
	}
	return bestF, bestT, bestF >= 0
}

func (b *treeBuilder) exactSplit(idx []int, f int) (float64, float64, bool) {
	order := append([]int(nil), idx...)
	sort.Slice(order, func(a, c int) bool { return b.X[order[a]][f] < b.X[order[c]][f] })

	var totSum, totSq float64
	for _, i := range order {
		totSum += b.target[i]
		totSq += b.target[i] * b.target[i]
	}
	n := len(order)
	best, bestThr, found := math.Inf(1), 0.0, false
	var lSum, lSq float64
	for k := 0; k < n-1; k++ {
		y := b.target[order[k]]
		lSum += y
		lSq += y * y
		nl := k + 1
		nr := n - nl
		if nl < b.p.minLeaf || nr < b.p.minLeaf {
			continue
		}
		cur, next := b.X[order[k]][f], b.X[order[k+1]][f]
		if cur == next {
			continue
		}
		cost := (lSq - lSum*lSum/float64(nl)) + ((totSq - lSq) - (totSum-lSum)*(totSum-lSum)/float64(nr))
		if cost < best {
			best, bestThr, found = cost, (cur+next)/2, true
		}
	}
	return bestThr, best, found
}

func (b *treeBuilder) randomSplit(idx []int, f int) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := b.X[i][f]
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !(hi > lo) {
		return 0, 0, false
	}
	thr := lo + b.rng.Float64()*(hi-lo)
	var left, right []int
	for _, i := range idx {
		if b.X[i][f] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.p.minLeaf || len(right) < b.p.minLeaf {
		return 0, 0, false
	}
	return thr, sse(b.target, left) + sse(b.target, right), true
}

func sse(target []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum, sq float64
	for _, i := range idx {
		sum += target[i]
		sq += target[i] * target[i]
	}
	return sq - sum*sum/float64(len(idx))
}

func meanOf(target []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += target[i]
	}
	return sum / float64(len(idx))
}
