package ensemble

import (
	"encoding/json"
	"fmt"

	"LevPair/internal/domain/models"
	applogger "LevPair/pkg/logger"
)

// BankSchemaVersion versions the persisted bank layout.
const BankSchemaVersion = 1

type memberSnapshot struct {
	Kind  string            `json:"kind"`
	State models.ModelState `json:"state"`
	Model json.RawMessage   `json:"model,omitempty"`
}

// Snapshot is the persisted form of a Bank: scaler, members with weights, last training set.
type Snapshot struct {
	SchemaVersion int                    `json:"schema_version"`
	Seed          int64                  `json:"seed"`
	Scaler        Scaler                 `json:"scaler"`
	Members       []memberSnapshot       `json:"members"`
	LastX         []models.FeatureVector `json:"last_x,omitempty"`
	LastY         []int                  `json:"last_y,omitempty"`
}

// Snapshot serializes the bank. Only fitted members carry model parameters.
func (b *Bank) Snapshot() (Snapshot, error) {
	s := Snapshot{
		SchemaVersion: BankSchemaVersion,
		Seed:          b.cfg.Seed,
		Scaler:        b.scaler,
		LastX:         b.lastX,
		LastY:         b.lastY,
	}
	for _, m := range b.members {
		ms := memberSnapshot{Kind: m.kind, State: m.state}
		if m.state.IsFitted {
			raw, err := json.Marshal(m.model)
			if err != nil {
				return s, models.NewCoreError(models.KindSerializationFailure, "snapshot "+m.kind, "", err)
			}
			ms.Model = raw
		}
		s.Members = append(s.Members, ms)
	}
	return s, nil
}

// Restore loads a snapshot into the configured members. Members missing from the
// snapshot keep their initial state; members whose parameters cannot be decoded
// come back unfit and are refit from the restored training set on first use.
func (b *Bank) Restore(s Snapshot) error {
	if s.SchemaVersion != BankSchemaVersion {
		return models.NewCoreError(models.KindSerializationFailure, "restore bank", "",
			fmt.Errorf("schema version %d, want %d", s.SchemaVersion, BankSchemaVersion))
	}
	if len(s.LastX) != len(s.LastY) {
		return models.NewCoreError(models.KindSerializationFailure, "restore bank", "",
			fmt.Errorf("training set has %d rows and %d labels", len(s.LastX), len(s.LastY)))
	}
	b.scaler = s.Scaler
	b.lastX = s.LastX
	b.lastY = s.LastY
	byKind := make(map[string]memberSnapshot, len(s.Members))
	for _, ms := range s.Members {
		byKind[ms.Kind] = ms
	}
	for _, m := range b.members {
		ms, ok := byKind[m.kind]
		if !ok {
			continue
		}
		m.state = ms.State
		m.state.Name = m.kind
		m.refitTried = false
		if m.state.BlendWeight <= 0 {
			m.state.BlendWeight = b.cfg.InitialWeight
		}
		if !ms.State.IsFitted || len(ms.Model) == 0 {
			m.state.IsFitted = false
			continue
		}
		model, err := newClassifier(m.kind, b.cfg)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(ms.Model, model); err != nil {
			b.log.Warn("ensemble member decode failed", applogger.String("member", m.kind), applogger.Error(err))
			m.state.IsFitted = false
			continue
		}
		m.model = model
	}
	return nil
}
