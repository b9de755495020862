package usecase

import (
	"context"

	"LevPair/internal/domain/models"
	applogger "LevPair/pkg/logger"
)

// ApplyOutcome feeds one completed trade back into the core: pattern memory, member
// weights, the trade journal, the threshold and, when due, a retrain. It is idempotent
// by trade id and returns false for an id that was already applied.
func (e *Engine) ApplyOutcome(ctx context.Context, o models.TradeOutcome) (bool, error) {
	if err := o.Validate(); err != nil {
		e.Metrics.RecordError(string(models.KindConfigInconsistency))
		return false, models.NewCoreError(models.KindConfigInconsistency, "apply outcome", o.Instrument, err)
	}
	if e.Controller.Seen(o.TradeID) {
		return false, nil
	}

	fv := models.NeutralFeatures
	if len(o.FeaturesAtEntry) > 0 {
		v, err := models.VectorFromSlice(o.FeaturesAtEntry)
		if err != nil {
			e.Metrics.RecordError(string(models.KindConfigInconsistency))
			return false, err
		}
		fv = v
	}

	if e.Dedup != nil {
		claimed, err := e.Dedup.Claim(ctx, o.TradeID)
		switch {
		case err != nil:
			// the local id set still guards this process
			e.log.Warn("trade dedup unavailable", applogger.String("trade_id", o.TradeID), applogger.Error(err))
		case !claimed:
			return false, nil
		}
	}

	ret := o.ReturnPct(e.leverage(o.Instrument))
	win := ret > 0
	closedAt := o.ExitTime
	if closedAt.IsZero() {
		closedAt = e.now()
	}

	recorded, err := e.Memory.Record(models.Pattern{
		SchemaVersion:     models.PatternSchemaVersion,
		ID:                o.TradeID,
		Features:          fv,
		Label:             o.Instrument,
		RealizedReturnPct: ret,
		InstrumentTraded:  o.Instrument,
		Timestamp:         closedAt,
		ConfidenceAtEntry: o.ConfidenceAtEntry,
		Provenance:        models.ProvenanceReal,
	})
	if err != nil {
		return false, err
	}
	if !recorded {
		return false, nil
	}

	votes := e.Bank.MemberProbabilities(fv)
	_, weights := e.Controller.ApplyOutcome(models.TradeRecord{
		TradeID:    o.TradeID,
		Instrument: o.Instrument,
		ReturnPct:  ret,
		Confidence: o.ConfidenceAtEntry,
		Win:        win,
		ClosedAt:   closedAt,
	}, votes, e.Bank)
	for name, w := range weights {
		e.Metrics.RecordMemberWeight(name, w)
	}
	e.Metrics.RecordOutcome(string(o.Instrument), win)
	e.dirty = true

	e.log.Info("trade outcome applied",
		applogger.String("trade_id", o.TradeID),
		applogger.String("instrument", string(o.Instrument)),
		applogger.Float64("return_pct", ret),
		applogger.Bool("win", win))

	if e.Journal != nil {
		if err := e.Journal.RecordOutcome(ctx, e.cfg.Strategy, o, ret, win); err != nil {
			e.Metrics.RecordError("journal")
			e.log.Warn("journal write failed", applogger.String("trade_id", o.TradeID), applogger.Error(err))
		}
	}

	if e.Controller.ThresholdDue() {
		if ev, changed := e.Controller.UpdateThreshold(); changed {
			e.Metrics.RecordThreshold(ev.To)
			e.log.Info("threshold updated",
				applogger.Float64("from", ev.From),
				applogger.Float64("to", ev.To),
				applogger.Int("trades", ev.Trades))
			e.emit(ctx, models.EventThresholdUpdated, ev)
		}
	}

	if e.retrainDue() {
		e.retrain(ctx, "outcomes")
	}
	e.refreshStatus(nil)
	return true, nil
}

func (e *Engine) retrainDue() bool {
	switch e.cfg.RetrainOn {
	case RetrainOnTrade:
		return e.Memory.SinceRetrain() > 0
	default:
		every := e.cfg.RetrainEvery
		if every < 1 {
			every = 1
		}
		return e.Memory.SinceRetrain() >= every
	}
}
