package metrics

// Nop discards every metric. Used by tests and one-shot CLI commands.
type Nop struct{}

func (Nop) RecordCycle(string, float64)        {}
func (Nop) RecordSignal(string, string)        {}
func (Nop) RecordRetrain(int, int)             {}
func (Nop) RecordMemberWeight(string, float64) {}
func (Nop) RecordThreshold(float64)            {}
func (Nop) RecordOutcome(string, bool)         {}
func (Nop) RecordError(string)                 {}
func (Nop) RecordLastPrice(string, float64)    {}
func (Nop) RecordLatency(string, float64)      {}
func (Nop) RecordInboxDepth(int)               {}
