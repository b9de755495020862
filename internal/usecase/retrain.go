package usecase

import (
	"context"
	"errors"
	"time"

	"LevPair/internal/domain/models"
	"LevPair/internal/services/memory"
	applogger "LevPair/pkg/logger"
)

// ErrNothingToLearn is returned by Retrain when memory cannot produce a sample yet.
var ErrNothingToLearn = errors.New("not enough patterns to retrain")

// Retrain fits the ensemble from pattern memory right away.
func (e *Engine) Retrain(ctx context.Context) (models.RetrainCompleted, error) {
	return e.retrain(ctx, "manual")
}

// retrain samples memory, fits every member, gives failed members their one automatic
// refit and pins the ones that still fail to the weight floor.
func (e *Engine) retrain(ctx context.Context, reason string) (models.RetrainCompleted, error) {
	var done models.RetrainCompleted
	sample, err := e.Memory.Sample()
	if err != nil {
		if errors.Is(err, memory.ErrInsufficientData) {
			e.log.Debug("retrain skipped",
				applogger.String("reason", reason),
				applogger.Int("samples", sample.Len()))
			return done, ErrNothingToLearn
		}
		return done, err
	}

	start := time.Now()
	report, fitErr := e.Bank.Fit(sample.X, sample.Y)
	e.Metrics.RecordLatency("retrain", time.Since(start).Seconds())
	e.Memory.MarkRetrained()

	failed := report.FailedNames(e.Bank.Names())
	if len(failed) > 0 {
		e.pinRefitFailures()
	}
	e.Metrics.RecordRetrain(report.SampleCount, len(failed))
	if fitErr != nil {
		e.Metrics.RecordError(string(models.KindOf(fitErr)))
		e.log.Error("retrain failed", applogger.String("reason", reason), applogger.Error(fitErr))
		e.refreshStatus(nil)
		return done, fitErr
	}

	e.lastRetrainAt = e.now()
	e.dirty = true
	done = models.RetrainCompleted{
		SampleCount:      report.SampleCount,
		AccuracyByMember: report.AccuracyByMember,
		FailedMembers:    failed,
	}
	e.log.Info("retrain completed",
		applogger.String("reason", reason),
		applogger.Int("samples", report.SampleCount),
		applogger.Int("winners", sample.Winners),
		applogger.Int("losers", sample.Losers),
		applogger.Strings("failed", failed),
		applogger.Duration("took", report.Duration))
	e.emit(ctx, models.EventRetrainCompleted, done)
	e.refreshStatus(nil)
	return done, nil
}

// pinRefitFailures gives unfit members their one automatic refit and drops those that
// still fail to the weight floor.
func (e *Engine) pinRefitFailures() []string {
	pinned := e.Bank.RefitFailed()
	for _, name := range pinned {
		e.Controller.PinFloor(name, e.Bank)
		e.Metrics.RecordMemberWeight(name, e.Controller.MinWeight())
	}
	if len(pinned) > 0 {
		e.dirty = true
	}
	return pinned
}
