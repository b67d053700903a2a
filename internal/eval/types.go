package eval

import "github.com/danielpatrickdp/organism/internal/state"

// #region eval-config
// EvalConfig holds the bounds checked after each tick.
type EvalConfig struct {
	MemoryCap       int     // fail if retained memory exceeds this
	FeedbackTimeout int     // fail if any pending action waited longer than this
	HealthBaseline  float64 // warn if health drops below baseline
}

// DefaultEvalConfig returns the standard bounds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MemoryCap:       50,
		FeedbackTimeout: 20,
		HealthBaseline:  0.25,
	}
}

// #endregion eval-config

// #region sample
// Sample is the post-tick view the harness validates.
type Sample struct {
	Vitals         state.Vitals
	Degraded       bool
	MemoryLen      int
	MaxTicksWaited int
	Health         float64
	// PrevTicks is the tick counter of the previous sample, when HasPrev.
	PrevTicks uint64
	HasPrev   bool
}

// #endregion sample

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-tick validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
