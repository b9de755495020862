package usecase

import (
	"time"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	"LevPair/internal/services/adaptive"
	"LevPair/internal/services/ensemble"
	"LevPair/internal/services/memory"
	applogger "LevPair/pkg/logger"
)

// tradingDoc is the persisted form of the live position.
type tradingDoc struct {
	SchemaVersion int                 `json:"schema_version"`
	Strategy      string              `json:"strategy"`
	State         models.TradingState `json:"state"`
	SavedAt       time.Time           `json:"saved_at"`
}

const tradingSchemaVersion = 1

// LoadState restores every persisted document it can. A missing or unreadable document
// leaves that component fresh and is only logged; loading never fails the engine.
func (e *Engine) LoadState() {
	var bank ensemble.Snapshot
	if e.load(domrepo.StateModelBank, &bank) {
		if err := e.Bank.Restore(bank); err != nil {
			e.warnFresh(domrepo.StateModelBank, err)
		}
	}

	var patterns memory.Snapshot
	if e.load(domrepo.StatePatterns, &patterns) {
		if err := e.Memory.Restore(patterns); err != nil {
			e.warnFresh(domrepo.StatePatterns, err)
		}
	}

	var ctrl adaptive.Snapshot
	if e.load(domrepo.StateController, &ctrl) {
		e.Controller.Restore(ctrl)
	}

	var trading tradingDoc
	if e.load(domrepo.StateTrading, &trading) {
		if trading.Strategy != "" && trading.Strategy != e.cfg.Strategy {
			e.log.Warn("trading state belongs to another strategy, starting flat",
				applogger.String("found", trading.Strategy))
		} else {
			e.Arbiter.Restore(trading.State)
		}
	}

	if pinned := e.pinRefitFailures(); len(pinned) > 0 {
		e.log.Warn("restored members failed their refit, weight pinned at floor",
			applogger.Strings("members", pinned))
	}
	for _, st := range e.Bank.States() {
		e.Metrics.RecordMemberWeight(st.Name, st.BlendWeight)
	}
	e.Metrics.RecordThreshold(e.Controller.Threshold())
	e.log.Info("state loaded",
		applogger.String("position", string(e.Arbiter.State().Position)),
		applogger.Float64("threshold", e.Controller.Threshold()),
		applogger.Int("patterns", e.Memory.Stats().Winners+e.Memory.Stats().Losers),
		applogger.Bool("fitted", e.Bank.Fitted()))
	e.refreshStatus(nil)
}

func (e *Engine) load(name string, v any) bool {
	found, err := e.Store.Load(name, v)
	if err != nil {
		e.warnFresh(name, err)
		return false
	}
	return found
}

func (e *Engine) warnFresh(name string, err error) {
	e.Metrics.RecordError(string(models.KindSerializationFailure))
	e.log.Warn("persisted state unusable, starting fresh", applogger.String("document", name), applogger.Error(err))
}

// SaveState writes every document. A failed document is skipped; in-memory state stays
// authoritative and the first error is returned.
func (e *Engine) SaveState() error {
	var first error
	save := func(name string, v any) {
		if err := e.Store.Save(name, v); err != nil {
			e.Metrics.RecordError(string(models.KindSerializationFailure))
			if first == nil {
				first = err
			}
		}
	}

	if snap, err := e.Bank.Snapshot(); err != nil {
		e.Metrics.RecordError(string(models.KindSerializationFailure))
		first = err
	} else {
		save(domrepo.StateModelBank, snap)
	}
	save(domrepo.StatePatterns, e.Memory.Snapshot())
	save(domrepo.StateController, e.Controller.Snapshot())
	save(domrepo.StateTrading, tradingDoc{
		SchemaVersion: tradingSchemaVersion,
		Strategy:      e.cfg.Strategy,
		State:         e.Arbiter.State(),
		SavedAt:       e.now(),
	})
	if first == nil {
		e.dirty = false
	}
	return first
}
