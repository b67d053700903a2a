package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/organism/internal/state"
)

// #region eval-harness
// EvalHarness runs lightweight invariant checks on a post-tick sample.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates one sample. Returns pass/fail with metrics.
func (h *EvalHarness) Run(s Sample) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Clamped vitals inside their ranges
	v := s.Vitals
	check("energy_range", v.Energy, inside(v.Energy, state.EnergyMin, state.EnergyMax),
		fmt.Sprintf("energy %.4f outside [%g, %g]", v.Energy, state.EnergyMin, state.EnergyMax))
	check("integrity_range", v.Integrity, inside(v.Integrity, state.IntegrityMin, state.IntegrityMax),
		fmt.Sprintf("integrity %.4f outside [%g, %g]", v.Integrity, state.IntegrityMin, state.IntegrityMax))
	check("stability_range", v.Stability, inside(v.Stability, state.StabilityMin, state.StabilityMax),
		fmt.Sprintf("stability %.4f outside [%g, %g]", v.Stability, state.StabilityMin, state.StabilityMax))

	// 2. Accumulators never negative
	check("fatigue_nonnegative", v.Fatigue, v.Fatigue >= 0, fmt.Sprintf("fatigue %.4f negative", v.Fatigue))
	check("tension_nonnegative", v.Tension, v.Tension >= 0, fmt.Sprintf("tension %.4f negative", v.Tension))

	// 3. Memory bound
	check("memory_len", float64(s.MemoryLen), s.MemoryLen <= h.config.MemoryCap,
		fmt.Sprintf("memory holds %d entries, cap %d", s.MemoryLen, h.config.MemoryCap))

	// 4. Feedback ceiling
	check("max_ticks_waited", float64(s.MaxTicksWaited), s.MaxTicksWaited <= h.config.FeedbackTimeout,
		fmt.Sprintf("pending action waited %d ticks, timeout %d", s.MaxTicksWaited, h.config.FeedbackTimeout))

	// 5. Mode agrees with floors
	atFloor := len(v.AtFloor()) > 0
	check("mode_consistent", boolValue(s.Degraded), s.Degraded == atFloor,
		fmt.Sprintf("degraded=%t but vitals at floor=%t", s.Degraded, atFloor))

	// 6. Tick counter advances by exactly one
	if s.HasPrev {
		check("ticks_monotonic", float64(v.Ticks), v.Ticks == s.PrevTicks+1,
			fmt.Sprintf("ticks went from %d to %d", s.PrevTicks, v.Ticks))
	}

	// 7. Health: informational, does not fail
	metrics = append(metrics, EvalMetric{
		Name:  "health",
		Value: s.Health,
		Pass:  s.Health >= h.config.HealthBaseline,
	})

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
func inside(x, lo, hi float64) bool {
	return !math.IsNaN(x) && x >= lo && x <= hi
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
