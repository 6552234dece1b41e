package domain

// Strategy selects how a leader fill maps to a copy amount.
type Strategy string

const (
	StrategyPercentage Strategy = "PERCENTAGE"
	StrategyFixed      Strategy = "FIXED"
	StrategyAdaptive   Strategy = "ADAPTIVE"
)

// SizedIntent is the sizing policy's verdict for one leader fill.
// FinalAmount is zero exactly when BelowMinimum is set.
type SizedIntent struct {
	Strategy         Strategy
	TraderOrderSize  float64
	BaseAmount       float64 // pre-cap amount after strategy and multiplier
	FinalAmount      float64 // post-cap amount actually ordered
	CappedByMax      bool
	ReducedByBalance bool
	BelowMinimum     bool
	Reasoning        []string
}

// ValidationResult is the validator's decision for one activity. Intent is
// populated on Valid so the engine does not recompute sizing. UserPosition
// stays zero when the exchange does not expose leader positions.
type ValidationResult struct {
	Valid        bool
	Reason       string
	Intent       SizedIntent
	MyBalance    float64
	UserBalance  float64
	MyPosition   float64
	UserPosition float64
}
