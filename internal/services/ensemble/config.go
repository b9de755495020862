package ensemble

// TreeConfig sizes a tree ensemble member.
type TreeConfig struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
}

// BoostingConfig sizes the gradient boosting member.
type BoostingConfig struct {
	Rounds       int
	MaxDepth     int
	MinLeaf      int
	LearningRate float64
}

// LogisticConfig tunes the linear member.
type LogisticConfig struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

// Config describes the bank composition. Members lists enabled member names in blend order.
type Config struct {
	Seed          int64
	Members       []string
	InitialWeight float64
	Forest        TreeConfig
	ExtraTrees    TreeConfig
	Boosting      BoostingConfig
	Logistic      LogisticConfig
}

// DefaultConfig enables all four members.
func DefaultConfig() Config {
	return Config{
		Seed:          42,
		Members:       []string{RandomForest, ExtraTrees, GradientBoosting, LogisticModel},
		InitialWeight: 1,
		Forest:        TreeConfig{Trees: 30, MaxDepth: 6, MinLeaf: 2},
		ExtraTrees:    TreeConfig{Trees: 30, MaxDepth: 6, MinLeaf: 2},
		Boosting:      BoostingConfig{Rounds: 40, MaxDepth: 3, MinLeaf: 3, LearningRate: 0.1},
		Logistic:      LogisticConfig{LearningRate: 0.05, Epochs: 150, L2: 0.001},
	}
}
