package meaning

import (
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region pattern

// Pattern is a coarse reaction category.
type Pattern string

const (
	PatternIgnore  Pattern = "ignore"
	PatternAbsorb  Pattern = "absorb"
	PatternDampen  Pattern = "dampen"
	PatternAmplify Pattern = "amplify"
)

// #endregion pattern

// #region meaning

// Meaning is the subjective reading of one event against the vitals at the
// time it was interpreted. It is never persisted on its own.
type Meaning struct {
	EventID      string
	EventType    signals.EventType
	Significance float64 // [0, 1]
	Impact       state.Impact
	Hint         Pattern
}

// #endregion meaning

// #region parts

// Appraiser scores how much an event matters given the current vitals.
type Appraiser interface {
	Appraise(e signals.Event, v state.Vitals) float64
}

// ImpactModel maps an event to vital deltas.
type ImpactModel interface {
	Impact(e signals.Event) state.Impact
}

// Hinter proposes a fallback reaction pattern.
type Hinter interface {
	Hint(significance float64, v state.Vitals) Pattern
}

// AppraiserFunc adapts a function to Appraiser.
type AppraiserFunc func(e signals.Event, v state.Vitals) float64

func (f AppraiserFunc) Appraise(e signals.Event, v state.Vitals) float64 { return f(e, v) }

// ImpactFunc adapts a function to ImpactModel.
type ImpactFunc func(e signals.Event) state.Impact

func (f ImpactFunc) Impact(e signals.Event) state.Impact { return f(e) }

// HinterFunc adapts a function to Hinter.
type HinterFunc func(significance float64, v state.Vitals) Pattern

func (f HinterFunc) Hint(significance float64, v state.Vitals) Pattern { return f(significance, v) }

// #endregion parts

// #region config

// AppraisalConfig weights each event type before fragility scaling.
type AppraisalConfig struct {
	Weights map[signals.EventType]float64
}

// DefaultAppraisalConfig returns the standard per-type weights.
func DefaultAppraisalConfig() AppraisalConfig {
	return AppraisalConfig{
		Weights: map[signals.EventType]float64{
			signals.EventNoise:    0.3,
			signals.EventDecay:    0.6,
			signals.EventRecovery: 0.5,
			signals.EventShock:    1.0,
			signals.EventIdle:     0,
		},
	}
}

// HintConfig holds the thresholds used by ThresholdHinter.
type HintConfig struct {
	IgnoreBelow        float64 // significance below this → ignore
	DampenStability    float64 // stability at or above this, with enough significance → dampen
	DampenSignificance float64
	AmplifyStability   float64 // stability below this → amplify
}

// DefaultHintConfig returns the standard thresholds.
func DefaultHintConfig() HintConfig {
	return HintConfig{
		IgnoreBelow:        0.1,
		DampenStability:    0.8,
		DampenSignificance: 0.5,
		AmplifyStability:   0.3,
	}
}

// #endregion config
