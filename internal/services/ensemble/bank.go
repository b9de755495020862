package ensemble

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"LevPair/internal/domain/models"
	applogger "LevPair/pkg/logger"
)

// member is one classifier slot of the bank.
type member struct {
	kind       string
	model      Classifier
	state      models.ModelState
	refitTried bool
	seedOffset int64
}

// FitReport summarizes one training cycle.
type FitReport struct {
	SampleCount      int
	AccuracyByMember map[string]float64
	Failed           map[string]error
	Duration         time.Duration
}

// FailedNames lists members that could not be fitted, in blend order.
func (r FitReport) FailedNames(order []string) []string {
	var out []string
	for _, n := range order {
		if _, ok := r.Failed[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Bank is the ensemble of independently trained members plus the shared scaler.
// It is an explicit value owned by the engine loop and is not safe for concurrent use.
type Bank struct {
	cfg     Config
	scaler  Scaler
	members []*member
	lastX   []models.FeatureVector
	lastY   []int
	log     *applogger.Logger
}

// Option configures a Bank.
type Option func(*Bank)

// WithLogger sets the logger used for member failures.
func WithLogger(l *applogger.Logger) Option {
	return func(b *Bank) { b.log = l }
}

// NewBank creates an unfitted bank with every configured member at the initial weight.
func NewBank(cfg Config, opts ...Option) (*Bank, error) {
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("ensemble: no members configured")
	}
	if cfg.InitialWeight <= 0 {
		cfg.InitialWeight = 1
	}
	b := &Bank{cfg: cfg, log: applogger.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	seen := make(map[string]bool)
	for i, kind := range cfg.Members {
		if seen[kind] {
			return nil, fmt.Errorf("ensemble: duplicate member %q", kind)
		}
		seen[kind] = true
		model, err := newClassifier(kind, cfg)
		if err != nil {
			return nil, err
		}
		b.members = append(b.members, &member{
			kind:       kind,
			model:      model,
			state:      models.ModelState{Name: kind, BlendWeight: cfg.InitialWeight},
			seedOffset: int64(i + 1),
		})
	}
	return b, nil
}

// Names returns member names in blend order.
func (b *Bank) Names() []string {
	out := make([]string, len(b.members))
	for i, m := range b.members {
		out[i] = m.kind
	}
	return out
}

// Fit scales X once and trains every member independently on the same scaled set.
// A failing member is marked unfit and does not abort the others.
func (b *Bank) Fit(X []models.FeatureVector, y []int) (FitReport, error) {
	start := time.Now()
	rep := FitReport{
		SampleCount:      len(X),
		AccuracyByMember: make(map[string]float64),
		Failed:           make(map[string]error),
	}
	if len(X) == 0 || len(X) != len(y) {
		return rep, models.NewCoreError(models.KindDataUnavailable, "ensemble fit", "",
			fmt.Errorf("%d rows, %d labels", len(X), len(y)))
	}
	clean := make([]models.FeatureVector, len(X))
	for i, x := range X {
		clean[i] = x.Sanitize()
	}
	b.scaler.Fit(clean)
	scaled := b.scaler.TransformAll(clean)
	b.lastX = clean
	b.lastY = append([]int(nil), y...)

	for _, m := range b.members {
		m.refitTried = false
		if err := b.fitMember(m, scaled, y, 0); err != nil {
			rep.Failed[m.kind] = err
			continue
		}
		rep.AccuracyByMember[m.kind] = m.state.LastAccuracy
	}
	rep.Duration = time.Since(start)
	if len(rep.Failed) == len(b.members) {
		return rep, models.NewCoreError(models.KindModelFitFailure, "ensemble fit", "",
			fmt.Errorf("all %d members failed", len(b.members)))
	}
	return rep, nil
}

// fitMember trains one member, converting panics into a ModelFitFailure.
func (b *Bank) fitMember(m *member, X [][]float64, y []int, attempt int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			m.state.IsFitted = false
			m.state.Failed = true
			err = models.NewCoreError(models.KindModelFitFailure, "fit "+m.kind, "", err)
			b.log.Warn("ensemble member fit failed", applogger.String("member", m.kind), applogger.Error(err))
		}
	}()

	model, err := newClassifier(m.kind, b.cfg)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(b.cfg.Seed + m.seedOffset + attempt*7919))
	if err := model.Fit(X, y, rng); err != nil {
		return err
	}
	correct := 0
	for i, x := range X {
		p := model.PredictProba(x)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return errNonFinite
		}
		if (p >= 0.5) == (y[i] == 1) {
			correct++
		}
	}
	m.model = model
	m.state.IsFitted = true
	m.state.Failed = false
	m.state.LastAccuracy = float64(correct) / float64(len(X))
	return nil
}

// ensureFitted refits each unfit member once from the last known training set.
// A member that fails again stays excluded until the next Fit.
func (b *Bank) ensureFitted() {
	if len(b.lastX) == 0 {
		return
	}
	var scaled [][]float64
	for _, m := range b.members {
		if m.state.IsFitted || m.refitTried {
			continue
		}
		m.refitTried = true
		if scaled == nil {
			scaled = b.scaler.TransformAll(b.lastX)
		}
		if err := b.fitMember(m, scaled, b.lastY, 1); err == nil {
			b.log.Info("ensemble member refit", applogger.String("member", m.kind))
		}
	}
}

// RefitFailed runs the single automatic refit for unfit members and returns the
// names of those that are still unfit afterwards.
func (b *Bank) RefitFailed() []string {
	b.ensureFitted()
	var out []string
	for _, m := range b.members {
		if !m.state.IsFitted && m.refitTried {
			out = append(out, m.kind)
		}
	}
	return out
}

// Predict returns the blended P(A favorable | x) in [0,1]. With no fitted member it is 0.5.
func (b *Bank) Predict(x models.FeatureVector) float64 {
	b.ensureFitted()
	xs := b.scaler.Transform(x.Sanitize())
	var num, den float64
	for _, m := range b.members {
		if !m.state.IsFitted {
			continue
		}
		p := m.model.PredictProba(xs)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		w := m.state.BlendWeight
		num += w * clampProb(p)
		den += w
	}
	if den <= 0 {
		return 0.5
	}
	return clampProb(num / den)
}

// MemberProbabilities returns each fitted member's own estimate for x.
func (b *Bank) MemberProbabilities(x models.FeatureVector) map[string]float64 {
	b.ensureFitted()
	xs := b.scaler.Transform(x.Sanitize())
	out := make(map[string]float64, len(b.members))
	for _, m := range b.members {
		if !m.state.IsFitted {
			continue
		}
		p := m.model.PredictProba(xs)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		out[m.kind] = clampProb(p)
	}
	return out
}

// States returns a copy of every member state in blend order.
func (b *Bank) States() []models.ModelState {
	out := make([]models.ModelState, len(b.members))
	for i, m := range b.members {
		out[i] = m.state
	}
	return out
}

// SetWeight overwrites the blend weight of a member. Unknown names are ignored.
func (b *Bank) SetWeight(name string, w float64) {
	for _, m := range b.members {
		if m.kind == name {
			m.state.BlendWeight = w
			return
		}
	}
}

// Fitted reports whether at least one member can predict.
func (b *Bank) Fitted() bool {
	for _, m := range b.members {
		if m.state.IsFitted {
			return true
		}
	}
	return false
}

func clampProb(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}
