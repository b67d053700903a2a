package gate

import (
	"fmt"

	"github.com/danielpatrickdp/organism/internal/state"
)

// #region gate
// Gate decides the operating mode from the current vitals. It is stateless,
// so repeated evaluation of the same vitals is idempotent and recovering a
// vital above its floor returns the organism to active.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate checks floors first, then near-floor warnings.
func (g *Gate) Evaluate(v state.Vitals) GateDecision {
	var floors []FloorSignal

	// --- Floor pass ---
	for _, name := range v.AtFloor() {
		floors = append(floors, FloorSignal{
			Vital:  name,
			Value:  v.Get(name),
			Reason: fmt.Sprintf("%s at floor", name),
		})
	}

	// --- Warning pass ---
	var warnings []FloorSignal
	margins := map[state.VitalName]float64{
		state.VitalEnergy:    g.config.WarnEnergy,
		state.VitalIntegrity: g.config.WarnIntegrity,
		state.VitalStability: g.config.WarnStability,
	}
	for _, name := range state.CoreVitals {
		val := v.Get(name)
		if val > floorOf(name) && val <= margins[name] {
			warnings = append(warnings, FloorSignal{
				Vital:  name,
				Value:  val,
				Reason: fmt.Sprintf("%s %.4f within warning margin %.4f", name, val, margins[name]),
			})
		}
	}

	health := computeHealth(v)

	if len(floors) > 0 {
		return GateDecision{
			Mode:         ModeDegraded,
			Reason:       fmt.Sprintf("degraded: %s", floors[0].Reason),
			Degraded:     true,
			FloorSignals: floors,
			Warnings:     warnings,
			Health:       health,
		}
	}

	return GateDecision{
		Mode:     ModeActive,
		Reason:   fmt.Sprintf("active: health=%.4f", health),
		Warnings: warnings,
		Health:   health,
	}
}

// #endregion gate

// #region helpers
func floorOf(name state.VitalName) float64 {
	switch name {
	case state.VitalEnergy:
		return state.EnergyMin
	case state.VitalIntegrity:
		return state.IntegrityMin
	default:
		return state.StabilityMin
	}
}

// computeHealth weights normalised energy 0.4, integrity 0.3, stability 0.3.
func computeHealth(v state.Vitals) float64 {
	energy := (v.Energy - state.EnergyMin) / (state.EnergyMax - state.EnergyMin)
	integrity := (v.Integrity - state.IntegrityMin) / (state.IntegrityMax - state.IntegrityMin)
	stability := (v.Stability - state.StabilityMin) / (state.StabilityMax - state.StabilityMin)
	return 0.4*energy + 0.3*integrity + 0.3*stability
}

// #endregion helpers
