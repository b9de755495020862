package usecase

import (
	"fmt"

	"LevPair/internal/domain/models"
	applogger "LevPair/pkg/logger"
)

// Seed records generated patterns into memory. Only synthetic patterns are accepted so
// generated data can never pass for real trades.
func (e *Engine) Seed(patterns []models.Pattern) (int, error) {
	n := 0
	for _, p := range patterns {
		if !p.Synthetic() {
			return n, models.NewCoreError(models.KindConfigInconsistency, "seed", p.Label,
				fmt.Errorf("pattern %s is not synthetic", p.ID))
		}
		ok, err := e.Memory.Record(p)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		e.dirty = true
	}
	e.log.Info("synthetic patterns seeded", applogger.Int("recorded", n), applogger.Int("offered", len(patterns)))
	e.refreshStatus(nil)
	return n, nil
}
