package gate

import (
	"testing"

	"github.com/danielpatrickdp/organism/internal/state"
)

func makeVitals(energy, integrity, stability float64) state.Vitals {
	v := state.DefaultVitals()
	v.Energy = energy
	v.Integrity = integrity
	v.Stability = stability
	return v
}

func TestGateActiveOnHealthyVitals(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(state.DefaultVitals())

	if decision.Mode != ModeActive {
		t.Fatalf("expected active, got %s: %s", decision.Mode, decision.Reason)
	}
	if decision.Degraded {
		t.Fatal("should not be degraded")
	}
	if len(decision.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", decision.Warnings)
	}
	if decision.Health != 1 {
		t.Fatalf("expected full health, got %f", decision.Health)
	}
}

func TestGateDegradedOnEnergyFloor(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(makeVitals(0, 1, 1))

	if decision.Mode != ModeDegraded {
		t.Fatalf("expected degraded, got %s", decision.Mode)
	}
	if len(decision.FloorSignals) != 1 {
		t.Fatalf("expected 1 floor signal, got %v", decision.FloorSignals)
	}
	if decision.FloorSignals[0].Vital != state.VitalEnergy {
		t.Fatalf("expected energy floor, got %s", decision.FloorSignals[0].Vital)
	}
}

func TestGateDegradedOnEveryFloor(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(makeVitals(0, 0, 0))

	if len(decision.FloorSignals) != 3 {
		t.Fatalf("expected 3 floor signals, got %v", decision.FloorSignals)
	}
	if decision.Health != 0 {
		t.Fatalf("expected zero health, got %f", decision.Health)
	}
}

func TestGateRecoversWhenVitalLeavesFloor(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	if d := g.Evaluate(makeVitals(50, 0, 1)); d.Mode != ModeDegraded {
		t.Fatalf("expected degraded, got %s", d.Mode)
	}
	if d := g.Evaluate(makeVitals(50, 0.01, 1)); d.Mode != ModeActive {
		t.Fatalf("expected active after recovery, got %s", d.Mode)
	}
}

func TestGateIdempotent(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	v := makeVitals(30, 0, 0.5)

	first := g.Evaluate(v)
	for i := 0; i < 5; i++ {
		again := g.Evaluate(v)
		if again.Mode != first.Mode || again.Reason != first.Reason {
			t.Fatalf("evaluation %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestGateWarningsAboveFloor(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(makeVitals(5, 0.05, 0.5))

	if decision.Mode != ModeActive {
		t.Fatalf("near-floor vitals must not degrade, got %s", decision.Mode)
	}
	if len(decision.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", decision.Warnings)
	}
	if decision.Warnings[0].Vital != state.VitalEnergy || decision.Warnings[1].Vital != state.VitalIntegrity {
		t.Fatalf("unexpected warning order: %v", decision.Warnings)
	}
}

func TestGateFloorIsNotAlsoAWarning(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(makeVitals(0, 1, 1))

	for _, w := range decision.Warnings {
		if w.Vital == state.VitalEnergy {
			t.Fatal("vital at floor should be reported as floor only")
		}
	}
}
