package adaptive

import "LevPair/internal/domain/models"

// Snapshot is the persisted controller state.
type Snapshot struct {
	Threshold      float64              `json:"threshold"`
	History        []models.TradeRecord `json:"history"`
	SeenIDs        []string             `json:"seen_ids"`
	SinceThreshold int                  `json:"since_threshold"`
}

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Threshold:      c.threshold,
		History:        append([]models.TradeRecord(nil), c.history...),
		SeenIDs:        append([]string(nil), c.seenOrder...),
		SinceThreshold: c.sinceThreshold,
	}
}

// Restore replaces the controller state. A zero threshold keeps the configured initial one.
func (c *Controller) Restore(s Snapshot) {
	if s.Threshold > 0 {
		c.threshold = s.Threshold
	}
	c.history = append([]models.TradeRecord(nil), s.History...)
	c.seen = make(map[string]struct{}, len(s.SeenIDs))
	c.seenOrder = nil
	for _, id := range s.SeenIDs {
		c.remember(id)
	}
	c.sinceThreshold = s.SinceThreshold
}
