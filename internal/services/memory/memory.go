package memory

import (
	"errors"
	"fmt"

	"LevPair/internal/domain/models"
)

// ErrInsufficientData is returned by Sample below the minimum sample count.
var ErrInsufficientData = models.DataUnavailable("pattern sample", "", errors.New("insufficient patterns"))

// Config bounds the two pools and shapes retraining samples.
type Config struct {
	WinnerCapacity     int
	LoserCapacity      int
	RecentWinners      int // K most recent winners per sample
	RecentLosers       int // M most recent losers per sample
	Oversample         int // winners are repeated this many times
	MinSamples         int
	MaxTrainingSamples int
	IncludeSynthetic   bool
}

// DefaultConfig keeps ten times more winners than losers.
func DefaultConfig() Config {
	return Config{
		WinnerCapacity:     1000,
		LoserCapacity:      100,
		RecentWinners:      50,
		RecentLosers:       20,
		Oversample:         3,
		MinSamples:         30,
		MaxTrainingSamples: 500,
	}
}

// Memory holds recorded patterns in a winning and a losing FIFO pool.
// It is owned by the engine loop and is not safe for concurrent use.
type Memory struct {
	cfg          Config
	winners      []models.Pattern
	losers       []models.Pattern
	ids          map[string]struct{}
	sinceRetrain int
}

// New creates an empty memory.
func New(cfg Config) *Memory {
	if cfg.Oversample < 1 {
		cfg.Oversample = 1
	}
	return &Memory{cfg: cfg, ids: make(map[string]struct{})}
}

// Record appends p to its pool, evicting the oldest entry on overflow.
// It returns false without error when p.ID was already recorded.
func (m *Memory) Record(p models.Pattern) (bool, error) {
	if !p.Label.Valid() {
		return false, fmt.Errorf("record pattern: label %q invalid", p.Label)
	}
	if p.ID != "" {
		if _, dup := m.ids[p.ID]; dup {
			return false, nil
		}
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = models.PatternSchemaVersion
	}
	if p.Provenance == "" {
		p.Provenance = models.ProvenanceReal
	}
	p.Features = p.Features.Sanitize()

	if p.Win() {
		m.winners = m.push(m.winners, p, m.cfg.WinnerCapacity)
	} else {
		m.losers = m.push(m.losers, p, m.cfg.LoserCapacity)
	}
	if p.ID != "" {
		m.ids[p.ID] = struct{}{}
	}
	m.sinceRetrain++
	return true, nil
}

func (m *Memory) push(pool []models.Pattern, p models.Pattern, capacity int) []models.Pattern {
	pool = append(pool, p)
	if capacity > 0 && len(pool) > capacity {
		drop := len(pool) - capacity
		for _, old := range pool[:drop] {
			delete(m.ids, old.ID)
		}
		pool = append(pool[:0:0], pool[drop:]...)
	}
	return pool
}

// Sample is a retraining set. Y is 1 when the example favours instrument A.
type Sample struct {
	X       []models.FeatureVector
	Y       []int
	Winners int
	Losers  int
}

// Len returns the number of examples.
func (s Sample) Len() int { return len(s.X) }

func (s *Sample) add(p models.Pattern, label models.Instrument) {
	y := 0
	if label == models.InstrumentA {
		y = 1
	}
	s.X = append(s.X, p.Features)
	s.Y = append(s.Y, y)
}

// Sample draws the most recent winners (oversampled) and the most recent losers with
// their label flipped. It returns ErrInsufficientData below the configured minimum.
func (m *Memory) Sample() (Sample, error) {
	var s Sample
	winners := recent(m.eligible(m.winners), m.cfg.RecentWinners)
	losers := recent(m.eligible(m.losers), m.cfg.RecentLosers)

	for r := 0; r < m.cfg.Oversample; r++ {
		for _, p := range winners {
			s.add(p, p.Label)
		}
	}
	for _, p := range losers {
		s.add(p, p.Label.Other())
	}
	s.Winners, s.Losers = len(winners), len(losers)

	if limit := m.cfg.MaxTrainingSamples; limit > 0 && s.Len() > limit {
		s.X = s.X[s.Len()-limit:]
		s.Y = s.Y[len(s.Y)-limit:]
	}
	if s.Len() < m.cfg.MinSamples || s.Len() == 0 {
		return s, ErrInsufficientData
	}
	return s, nil
}

func (m *Memory) eligible(pool []models.Pattern) []models.Pattern {
	if m.cfg.IncludeSynthetic {
		return pool
	}
	out := make([]models.Pattern, 0, len(pool))
	for _, p := range pool {
		if !p.Synthetic() {
			out = append(out, p)
		}
	}
	return out
}

func recent(pool []models.Pattern, n int) []models.Pattern {
	if n <= 0 || len(pool) <= n {
		return pool
	}
	return pool[len(pool)-n:]
}

// SinceRetrain is the number of patterns recorded since the last MarkRetrained.
func (m *Memory) SinceRetrain() int { return m.sinceRetrain }

// MarkRetrained resets the retrain counter.
func (m *Memory) MarkRetrained() { m.sinceRetrain = 0 }

// Stats summarizes both pools. Synthetic patterns never count towards the win rate.
func (m *Memory) Stats() models.PatternStats {
	st := models.PatternStats{
		Winners:        len(m.winners),
		Losers:         len(m.losers),
		SinceRetrain:   m.sinceRetrain,
		WinnerCapacity: m.cfg.WinnerCapacity,
		LoserCapacity:  m.cfg.LoserCapacity,
	}
	for _, p := range m.winners {
		if p.Synthetic() {
			st.Synthetic++
		} else {
			st.RealWinners++
		}
	}
	for _, p := range m.losers {
		if p.Synthetic() {
			st.Synthetic++
		} else {
			st.RealLosers++
		}
	}
	if n := st.RealWinners + st.RealLosers; n > 0 {
		st.WinRate = float64(st.RealWinners) / float64(n)
	}
	return st
}
