package meaning

import (
	"math"

	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region interpreter

// Interpreter turns a raw event plus the current vitals into a Meaning.
// It is pure: vitals are read, never written.
type Interpreter struct {
	appraiser Appraiser
	impact    ImpactModel
	hinter    Hinter
}

// Option replaces one part of the interpreter.
type Option func(*Interpreter)

// WithAppraiser overrides significance scoring.
func WithAppraiser(a Appraiser) Option { return func(i *Interpreter) { i.appraiser = a } }

// WithImpactModel overrides the per-type delta table.
func WithImpactModel(m ImpactModel) Option { return func(i *Interpreter) { i.impact = m } }

// WithHinter overrides the response-pattern hint.
func WithHinter(h Hinter) Option { return func(i *Interpreter) { i.hinter = h } }

// NewInterpreter builds an interpreter from the default parts plus overrides.
func NewInterpreter(opts ...Option) *Interpreter {
	i := &Interpreter{
		appraiser: NewFragilityAppraiser(DefaultAppraisalConfig()),
		impact:    TypeImpactModel{},
		hinter:    NewThresholdHinter(DefaultHintConfig()),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpret appraises, models impact and hints for a single event.
func (i *Interpreter) Interpret(e signals.Event, v state.Vitals) Meaning {
	sig := clamp01(i.appraiser.Appraise(e, v))
	return Meaning{
		EventID:      e.ID,
		EventType:    e.Type,
		Significance: sig,
		Impact:       i.impact.Impact(e),
		Hint:         i.hinter.Hint(sig, v),
	}
}

// #endregion interpreter

// #region appraisal

// FragilityAppraiser scales |intensity| by a per-type weight and by how
// fragile the organism currently is: the same stimulus matters more when
// integrity and stability are low.
type FragilityAppraiser struct {
	config AppraisalConfig
}

// NewFragilityAppraiser creates the default appraiser.
func NewFragilityAppraiser(config AppraisalConfig) *FragilityAppraiser {
	return &FragilityAppraiser{config: config}
}

// Appraise returns a significance in [0, 1]. Unknown types weigh 0.
func (a *FragilityAppraiser) Appraise(e signals.Event, v state.Vitals) float64 {
	weight := a.config.Weights[e.Type]
	if weight == 0 {
		return 0
	}
	fragility := 1 + (1 - v.Integrity) + (1 - v.Stability)
	return clamp01(math.Abs(e.Intensity) * weight * fragility)
}

// #endregion appraisal

// #region impact-model

// TypeImpactModel is the fixed per-type delta table.
type TypeImpactModel struct{}

// Impact returns the deltas caused by e. Idle and unknown types yield an empty map.
func (TypeImpactModel) Impact(e signals.Event) state.Impact {
	switch e.Type {
	case signals.EventNoise:
		return state.Impact{state.VitalStability: e.Intensity * 0.01}
	case signals.EventDecay, signals.EventRecovery:
		return state.Impact{state.VitalEnergy: e.Intensity}
	case signals.EventShock:
		return state.Impact{
			state.VitalIntegrity: e.Intensity * 0.1,
			state.VitalStability: e.Intensity * 0.05,
		}
	default:
		return state.Impact{}
	}
}

// #endregion impact-model

// #region hinter

// ThresholdHinter classifies by significance first, then by stability.
type ThresholdHinter struct {
	config HintConfig
}

// NewThresholdHinter creates the default hinter.
func NewThresholdHinter(config HintConfig) *ThresholdHinter {
	return &ThresholdHinter{config: config}
}

// Hint returns ignore, dampen, amplify or absorb.
func (h *ThresholdHinter) Hint(significance float64, v state.Vitals) Pattern {
	switch {
	case significance < h.config.IgnoreBelow:
		return PatternIgnore
	case v.Stability >= h.config.DampenStability && significance >= h.config.DampenSignificance:
		return PatternDampen
	case v.Stability < h.config.AmplifyStability:
		return PatternAmplify
	default:
		return PatternAbsorb
	}
}

// #endregion hinter

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
