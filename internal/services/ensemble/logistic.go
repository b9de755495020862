package ensemble

import (
	"math"
	"math/rand"
)

// Logistic is an L2-regularized logistic regression trained by SGD on cross-entropy.
type Logistic struct {
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
	L2           float64   `json:"l2"`
	W            []float64 `json:"w"`
	B            float64   `json:"b"`
}

func (m *Logistic) Fit(X [][]float64, y []int, rng *rand.Rand) error {
	if err := checkLabels(X, y); err != nil {
		return err
	}
	if m.LearningRate <= 0 {
		m.LearningRate = 0.05
	}
	if m.Epochs <= 0 {
		m.Epochs = 200
	}
	d := len(X[0])
	w := make([]float64, d)
	for j := range w {
		w[j] = rng.NormFloat64() * 0.01
	}
	b := 0.0
	order := allIndices(len(X))
	for e := 0; e < m.Epochs; e++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, i := range order {
			grad := predict(w, b, X[i]) - float64(y[i])
			for j := range w {
				w[j] -= m.LearningRate * (grad*X[i][j] + m.L2*w[j])
			}
			b -= m.LearningRate * grad
		}
	}
	for _, v := range append(w, b) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errNonFinite
		}
	}
	m.W, m.B = w, b
	return nil
}

// PredictProba expects len(W) features; otherwise it returns 0.5.
func (m *Logistic) PredictProba(x []float64) float64 {
	if len(x) != len(m.W) {
		return 0.5
	}
	return predict(m.W, m.B, x)
}

func predict(w []float64, b float64, x []float64) float64 {
	z := b
	for j := range w {
		z += w[j] * x[j]
	}
	return sigmoid(z)
}
