package update

import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/organism/internal/state"
)

// #region apply-function
// Apply is a pure function that folds an accumulated impact into vitals and
// clamps the result. The input vitals are not modified.
func Apply(old state.Vitals, impact state.Impact, config Config) Result {
	next := old

	names := make([]state.VitalName, 0, len(impact))
	for name := range impact {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var skipped []state.VitalName
	requested := map[state.VitalName]float64{}
	for _, name := range names {
		d := impact[name]
		if math.IsNaN(d) || math.IsInf(d, 0) {
			skipped = append(skipped, name)
			continue
		}
		if config.MaxDeltaPerVital > 0 {
			d = math.Max(-config.MaxDeltaPerVital, math.Min(config.MaxDeltaPerVital, d))
		}
		switch name {
		case state.VitalEnergy:
			next.Energy += d
		case state.VitalIntegrity:
			next.Integrity += d
		case state.VitalStability:
			next.Stability += d
		default:
			skipped = append(skipped, name)
			continue
		}
		requested[name] = d
	}
	next.Clamp()

	// Tension accumulates from effective damage only.
	applied := next.Core().Delta(old.Core())
	var gain float64
	for _, name := range []state.VitalName{state.VitalIntegrity, state.VitalStability} {
		if applied[name] < 0 {
			gain -= applied[name]
		}
	}
	gain *= config.TensionRate
	next.Tension += gain
	next.Clamp()

	vitalMetrics := make([]VitalMetric, 0, len(requested))
	var hit []state.VitalName
	var sumSq float64
	for _, name := range state.CoreVitals {
		req, ok := requested[name]
		if !ok {
			continue
		}
		a := applied[name]
		vitalMetrics = append(vitalMetrics, VitalMetric{
			Name:      name,
			Requested: req,
			Applied:   a,
			Clamped:   math.Abs(a-req) > 1e-12,
		})
		if a != 0 {
			hit = append(hit, name)
		}
		sumSq += a * a
	}
	norm := math.Sqrt(sumSq)

	decision := Decision{Action: "no_op", Reason: "no vital change"}
	if norm > 0 || gain > 0 {
		decision = Decision{
			Action: "commit",
			Reason: fmt.Sprintf("vitals hit: %v, delta norm: %.6f", hit, norm),
		}
	}

	return Result{
		Vitals:   next,
		Decision: decision,
		Metrics: Metrics{
			DeltaNorm:    norm,
			VitalsHit:    hit,
			VitalMetrics: vitalMetrics,
			Skipped:      skipped,
			TensionGain:  gain,
		},
	}
}

// #endregion apply-function
