package repository

// StateStore persists opaque state documents. Save must be atomic; Load reports
// found=false for a missing document and an error for a corrupt one.
type StateStore interface {
	Save(name string, v any) error
	Load(name string, v any) (found bool, err error)
}

// Names of the persisted documents.
const (
	StateModelBank  = "model_bank"
	StatePatterns   = "pattern_memory"
	StateController = "controller"
	StateTrading    = "trading_state"
)
