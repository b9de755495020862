package ensemble

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevPair/internal/domain/models"
)

// separable returns n rows whose slots all track one latent signal s; the label is s > 0.
func separable(n int, seed int64) ([]models.FeatureVector, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([]models.FeatureVector, n)
	y := make([]int, n)
	for i := range X {
		s := rng.NormFloat64()
		for j := range X[i] {
			X[i][j] = s + 0.1*rng.NormFloat64()
		}
		if s > 0 {
			y[i] = 1
		}
	}
	return X, y
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Forest.Trees = 10
	cfg.ExtraTrees.Trees = 10
	cfg.Boosting.Rounds = 15
	cfg.Logistic.Epochs = 30
	return cfg
}

func TestPredictUnfittedIsNeutral(t *testing.T) {
	b, err := NewBank(smallConfig())
	require.NoError(t, err)
	assert.Equal(t, 0.5, b.Predict(models.NeutralFeatures))
	assert.False(t, b.Fitted())
	assert.Empty(t, b.MemberProbabilities(models.NeutralFeatures))
}

func TestFitLearnsSeparableData(t *testing.T) {
	b, err := NewBank(smallConfig())
	require.NoError(t, err)
	X, y := separable(200, 1)

	rep, err := b.Fit(X, y)
	require.NoError(t, err)
	assert.Equal(t, 200, rep.SampleCount)
	assert.Empty(t, rep.Failed)
	for _, name := range b.Names() {
		assert.Greater(t, rep.AccuracyByMember[name], 0.85, name)
	}

	var pos, neg models.FeatureVector
	for j := range pos {
		pos[j], neg[j] = 2, -2
	}
	assert.Greater(t, b.Predict(pos), 0.5)
	assert.Less(t, b.Predict(neg), 0.5)
}

func TestPredictAlwaysInUnitInterval(t *testing.T) {
	b, err := NewBank(smallConfig())
	require.NoError(t, err)
	X, y := separable(150, 2)
	_, err = b.Fit(X, y)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 300; i++ {
		var x models.FeatureVector
		for j := range x {
			x[j] = rng.NormFloat64() * 50
		}
		p := b.Predict(x)
		require.GreaterOrEqual(t, p, 0.0)
		require.LessOrEqual(t, p, 1.0)
	}
}

func TestFitSingleClassFailsEveryMember(t *testing.T) {
	b, err := NewBank(smallConfig())
	require.NoError(t, err)
	X, _ := separable(40, 4)
	y := make([]int, len(X))

	rep, err := b.Fit(X, y)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelFitFailure)
	assert.Len(t, rep.Failed, 4)
	assert.Equal(t, 0.5, b.Predict(X[0]))
	for _, st := range b.States() {
		assert.True(t, st.Failed)
		assert.False(t, st.IsFitted)
	}
}

func TestFailingMemberIsIsolated(t *testing.T) {
	cfg := smallConfig()
	cfg.Logistic.LearningRate = 1e308
	cfg.Logistic.Epochs = 5
	b, err := NewBank(cfg)
	require.NoError(t, err)
	X, y := separable(120, 5)

	rep, err := b.Fit(X, y)
	require.NoError(t, err)
	require.Contains(t, rep.Failed, LogisticModel)
	assert.ErrorIs(t, rep.Failed[LogisticModel], models.ErrModelFitFailure)
	assert.Equal(t, []string{LogisticModel}, rep.FailedNames(b.Names()))
	assert.Equal(t, []string{LogisticModel}, b.RefitFailed())

	p := b.Predict(X[0])
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)
	probs := b.MemberProbabilities(X[0])
	assert.NotContains(t, probs, LogisticModel)
	assert.Len(t, probs, 3)
}

func TestBlendUsesWeights(t *testing.T) {
	b, err := NewBank(smallConfig())
	require.NoError(t, err)
	X, y := separable(150, 6)
	_, err = b.Fit(X, y)
	require.NoError(t, err)

	x := X[3]
	probs := b.MemberProbabilities(x)
	b.SetWeight(RandomForest, 9)
	b.SetWeight(ExtraTrees, 0.1)
	b.SetWeight(GradientBoosting, 0.1)
	b.SetWeight(LogisticModel, 0.1)

	want := (9*probs[RandomForest] + 0.1*probs[ExtraTrees] + 0.1*probs[GradientBoosting] + 0.1*probs[LogisticModel]) / 9.3
	assert.InDelta(t, want, b.Predict(x), 1e-12)
}

func TestSnapshotRoundTripReproducesPredictions(t *testing.T) {
	cfg := smallConfig()
	b, err := NewBank(cfg)
	require.NoError(t, err)
	X, y := separable(150, 7)
	_, err = b.Fit(X, y)
	require.NoError(t, err)
	b.SetWeight(GradientBoosting, 2.25)

	snap, err := b.Snapshot()
	require.NoError(t, err)
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))
	restored, err := NewBank(cfg)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(decoded))

	var probe models.FeatureVector
	for j := range probe {
		probe[j] = 0.1 * float64(j)
	}
	assert.Equal(t, b.Predict(probe), restored.Predict(probe))
	assert.Equal(t, b.States(), restored.States())
}

func TestRestoreRefitsUndecodableMember(t *testing.T) {
	cfg := smallConfig()
	b, err := NewBank(cfg)
	require.NoError(t, err)
	X, y := separable(100, 8)
	_, err = b.Fit(X, y)
	require.NoError(t, err)

	snap, err := b.Snapshot()
	require.NoError(t, err)
	for i := range snap.Members {
		if snap.Members[i].Kind == LogisticModel {
			snap.Members[i].Model = json.RawMessage(`"garbage"`)
		}
	}
	restored, err := NewBank(cfg)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))

	_ = restored.Predict(X[0])
	for _, st := range restored.States() {
		assert.True(t, st.IsFitted, st.Name)
	}
}

func TestFitIsDeterministic(t *testing.T) {
	X, y := separable(120, 9)
	a, _ := NewBank(smallConfig())
	b, _ := NewBank(smallConfig())
	_, err := a.Fit(X, y)
	require.NoError(t, err)
	_, err = b.Fit(X, y)
	require.NoError(t, err)
	assert.Equal(t, a.Predict(X[11]), b.Predict(X[11]))
}

func TestNewBankRejectsBadMembers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Members = []string{RandomForest, RandomForest}
	_, err := NewBank(cfg)
	assert.Error(t, err)

	cfg.Members = []string{"svm"}
	_, err = NewBank(cfg)
	assert.Error(t, err)
}

func TestConfidencePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy ConfidencePolicy
		inst   models.Instrument
		p      float64
		want   float64
	}{
		{"probability A", ConfidencePolicy{Mode: ConfidenceProbability, Scale: 1}, models.InstrumentA, 0.7, 0.7},
		{"probability B", ConfidencePolicy{Mode: ConfidenceProbability, Scale: 1}, models.InstrumentB, 0.7, 0.3},
		{"distance A", ConfidencePolicy{Mode: ConfidenceDistance, Scale: 1}, models.InstrumentA, 0.7, 0.4},
		{"distance B below half", ConfidencePolicy{Mode: ConfidenceDistance, Scale: 1}, models.InstrumentB, 0.7, 0},
		{"floor", ConfidencePolicy{Mode: ConfidenceDistance, Floor: 0.55, Scale: 1}, models.InstrumentA, 0.6, 0.55},
		{"scale clamps", ConfidencePolicy{Mode: ConfidenceProbability, Scale: 2}, models.InstrumentA, 0.8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.policy.For(tt.inst, tt.p), 1e-9)
		})
	}
}
