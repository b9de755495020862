package memory

import (
	"fmt"

	"LevPair/internal/domain/models"
)

// Snapshot is the persisted form of Memory.
type Snapshot struct {
	SchemaVersion int              `json:"schema_version"`
	Winners       []models.Pattern `json:"winners"`
	Losers        []models.Pattern `json:"losers"`
	SinceRetrain  int              `json:"since_retrain"`
}

// Snapshot copies the pools for persistence.
func (m *Memory) Snapshot() Snapshot {
	return Snapshot{
		SchemaVersion: models.PatternSchemaVersion,
		Winners:       append([]models.Pattern(nil), m.winners...),
		Losers:        append([]models.Pattern(nil), m.losers...),
		SinceRetrain:  m.sinceRetrain,
	}
}

// Restore replaces the pools with s. Patterns written before provenance existed are real.
// Pools are re-bounded by the current capacities.
func (m *Memory) Restore(s Snapshot) error {
	if s.SchemaVersion > models.PatternSchemaVersion {
		return models.NewCoreError(models.KindSerializationFailure, "restore patterns", "",
			fmt.Errorf("schema version %d is newer than %d", s.SchemaVersion, models.PatternSchemaVersion))
	}
	m.winners, m.losers = nil, nil
	m.ids = make(map[string]struct{})
	for _, pool := range [][]models.Pattern{s.Winners, s.Losers} {
		for _, p := range pool {
			if p.Provenance == "" {
				p.Provenance = models.ProvenanceReal
			}
			p.SchemaVersion = models.PatternSchemaVersion
			if _, err := m.Record(p); err != nil {
				return fmt.Errorf("restore patterns: %w", err)
			}
		}
	}
	m.sinceRetrain = s.SinceRetrain
	return nil
}
