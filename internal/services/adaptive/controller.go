package adaptive

import (
	"math"
	"sort"

	"LevPair/internal/domain/models"
)

// floorMargin keeps a floored weight strictly above the configured floor.
const floorMargin = 1e-3

// Config holds the weight and threshold update rules.
type Config struct {
	WinMultiplier       float64
	LossDivisor         float64
	WeightCeiling       float64
	WeightFloor         float64
	InitialThreshold    float64
	ThresholdCandidates []float64
	EvalWindow          int // most recent trades scored per candidate
	MinTrades           int // candidates selecting fewer trades are skipped
	ThresholdEvery      int // outcomes between threshold updates
	WinRateWeight       float64
	FrequencyWeight     float64
	MaxTrackedIDs       int
}

// DefaultConfig mirrors the x1.5 / /2 rule with a 0.7/0.3 score split.
func DefaultConfig() Config {
	return Config{
		WinMultiplier:       1.5,
		LossDivisor:         2,
		WeightCeiling:       5,
		WeightFloor:         0.05,
		InitialThreshold:    0.6,
		ThresholdCandidates: []float64{0.55, 0.6, 0.65, 0.7, 0.75},
		EvalWindow:          50,
		MinTrades:           5,
		ThresholdEvery:      10,
		WinRateWeight:       0.7,
		FrequencyWeight:     0.3,
		MaxTrackedIDs:       10000,
	}
}

// WeightTable is the blend-weight view of the ensemble the controller mutates.
type WeightTable interface {
	States() []models.ModelState
	SetWeight(name string, w float64)
}

// Controller rescales member weights per trade and re-derives the entry threshold periodically.
// It is owned by the engine loop and is not safe for concurrent use.
type Controller struct {
	cfg            Config
	threshold      float64
	history        []models.TradeRecord
	seen           map[string]struct{}
	seenOrder      []string
	sinceThreshold int
}

// New creates a controller at the initial threshold.
func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg, threshold: cfg.InitialThreshold, seen: make(map[string]struct{})}
	sort.Float64s(c.cfg.ThresholdCandidates)
	return c
}

// Threshold is the current minimum confidence to act.
func (c *Controller) Threshold() float64 { return c.threshold }

// Seen reports whether tradeID was already applied.
func (c *Controller) Seen(tradeID string) bool {
	_, ok := c.seen[tradeID]
	return ok
}

// MinWeight is the lowest weight a losing streak can push a member to.
func (c *Controller) MinWeight() float64 {
	return c.cfg.WeightFloor * (1 + floorMargin)
}

// ApplyOutcome updates weights once per trade id. votes holds each fitted member's
// P(A favorable) at entry; members without a vote keep their weight.
// It returns false when the trade was already applied.
func (c *Controller) ApplyOutcome(rec models.TradeRecord, votes map[string]float64, table WeightTable) (bool, map[string]float64) {
	if rec.TradeID != "" && c.Seen(rec.TradeID) {
		return false, nil
	}
	c.remember(rec.TradeID)
	c.history = append(c.history, rec)
	if keep := c.historyCap(); len(c.history) > keep {
		c.history = append(c.history[:0:0], c.history[len(c.history)-keep:]...)
	}
	c.sinceThreshold++

	profitable := rec.Instrument
	if !rec.Win {
		profitable = rec.Instrument.Other()
	}
	updated := make(map[string]float64)
	for _, st := range table.States() {
		vote, ok := votes[st.Name]
		if !ok {
			continue
		}
		favours := models.InstrumentB
		if vote >= 0.5 {
			favours = models.InstrumentA
		}
		w := st.BlendWeight
		if favours == profitable {
			w = math.Min(c.cfg.WeightCeiling, w*c.cfg.WinMultiplier)
		} else {
			w = c.lossStep(w)
		}
		table.SetWeight(st.Name, w)
		updated[st.Name] = w
	}
	return true, updated
}

func (c *Controller) lossStep(w float64) float64 {
	div := c.cfg.LossDivisor
	if div <= 1 {
		div = 2
	}
	return math.Max(c.MinWeight(), w/div)
}

// PinFloor drops a member that failed its automatic refit to the minimum weight.
func (c *Controller) PinFloor(name string, table WeightTable) {
	table.SetWeight(name, c.MinWeight())
}

func (c *Controller) remember(id string) {
	if id == "" {
		return
	}
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	if limit := c.cfg.MaxTrackedIDs; limit > 0 && len(c.seenOrder) > limit {
		drop := len(c.seenOrder) - limit
		for _, old := range c.seenOrder[:drop] {
			delete(c.seen, old)
		}
		c.seenOrder = append(c.seenOrder[:0:0], c.seenOrder[drop:]...)
	}
}

func (c *Controller) historyCap() int {
	if c.cfg.EvalWindow > 0 {
		return c.cfg.EvalWindow * 4
	}
	return 200
}

// ThresholdDue reports whether enough outcomes arrived since the last threshold update.
func (c *Controller) ThresholdDue() bool {
	return c.cfg.ThresholdEvery > 0 && c.sinceThreshold >= c.cfg.ThresholdEvery
}

// UpdateThreshold scores each candidate over the recent trades and adopts the best one.
// The threshold is unchanged when no candidate selects MinTrades trades.
func (c *Controller) UpdateThreshold() (models.ThresholdUpdated, bool) {
	c.sinceThreshold = 0
	recent := c.history
	if n := c.cfg.EvalWindow; n > 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	ev := models.ThresholdUpdated{From: c.threshold, To: c.threshold}
	if len(recent) == 0 {
		return ev, false
	}

	found := false
	best := math.Inf(-1)
	for _, cand := range c.cfg.ThresholdCandidates {
		var selected, wins int
		for _, r := range recent {
			if r.Confidence >= cand {
				selected++
				if r.Win {
					wins++
				}
			}
		}
		if selected == 0 || selected < c.cfg.MinTrades {
			continue
		}
		winRate := float64(wins) / float64(selected)
		freq := float64(selected) / float64(len(recent))
		score := winRate*c.cfg.WinRateWeight + freq*c.cfg.FrequencyWeight
		if score > best {
			best, found = score, true
			ev.To, ev.Score, ev.Trades = cand, score, selected
		}
	}
	if !found {
		return ev, false
	}
	changed := ev.To != c.threshold
	c.threshold = ev.To
	return ev, changed
}

// RollingWinRate is the win rate over the evaluation window.
func (c *Controller) RollingWinRate() float64 {
	recent := c.history
	if n := c.cfg.EvalWindow; n > 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	if len(recent) == 0 {
		return 0
	}
	wins := 0
	for _, r := range recent {
		if r.Win {
			wins++
		}
	}
	return float64(wins) / float64(len(recent))
}

// Outcomes returns the number of trades applied so far (bounded by tracked ids).
func (c *Controller) Outcomes() int { return len(c.seenOrder) }
