package state

import (
	"math"
	"time"
)

// #region vital-names

// VitalName identifies one of the three clamped homeostatic scalars.
type VitalName string

const (
	VitalEnergy    VitalName = "energy"
	VitalIntegrity VitalName = "integrity"
	VitalStability VitalName = "stability"
)

// CoreVitals lists the clamped vitals in their canonical order.
var CoreVitals = []VitalName{VitalEnergy, VitalIntegrity, VitalStability}

// Range bounds for the clamped vitals.
const (
	EnergyMin    = 0.0
	EnergyMax    = 100.0
	IntegrityMin = 0.0
	IntegrityMax = 1.0
	StabilityMin = 0.0
	StabilityMax = 1.0
)

// #endregion vital-names

// #region impact

// Impact maps a vital to an additive delta. A nil or empty Impact is a no-op.
type Impact map[VitalName]float64

// Add accumulates other into i, allocating if needed, and returns the result.
func (i Impact) Add(other Impact) Impact {
	if len(other) == 0 {
		return i
	}
	if i == nil {
		i = make(Impact, len(other))
	}
	for k, v := range other {
		i[k] += v
	}
	return i
}

// Clone returns an independent copy.
func (i Impact) Clone() Impact {
	if i == nil {
		return nil
	}
	out := make(Impact, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// #endregion impact

// #region life

// Life identifies one organism instance. Both fields are fixed at creation
// and carried across snapshot restores.
type Life struct {
	ID     string    `json:"life_id"`
	BornAt time.Time `json:"born_at"`
}

// #endregion life

// #region vitals

// Vitals is the single mutable state record of the organism.
type Vitals struct {
	Energy    float64 `json:"energy"`
	Integrity float64 `json:"integrity"`
	Stability float64 `json:"stability"`
	Fatigue   float64 `json:"fatigue"`
	Tension   float64 `json:"tension"`
	Age       float64 `json:"age"` // seconds
	Ticks     uint64  `json:"ticks"`
	Active    bool    `json:"active"`
}

// DefaultVitals returns a fresh, fully healthy state.
func DefaultVitals() Vitals {
	return Vitals{
		Energy:    EnergyMax,
		Integrity: IntegrityMax,
		Stability: StabilityMax,
		Active:    true,
	}
}

// Clamp forces every vital back into its range. NaN collapses to the floor.
func (v *Vitals) Clamp() {
	v.Energy = clamp(v.Energy, EnergyMin, EnergyMax)
	v.Integrity = clamp(v.Integrity, IntegrityMin, IntegrityMax)
	v.Stability = clamp(v.Stability, StabilityMin, StabilityMax)
	v.Fatigue = clamp(v.Fatigue, 0, math.Inf(1))
	v.Tension = clamp(v.Tension, 0, math.Inf(1))
}

// Get returns the value of a clamped vital; unknown names read as 0.
func (v Vitals) Get(name VitalName) float64 {
	switch name {
	case VitalEnergy:
		return v.Energy
	case VitalIntegrity:
		return v.Integrity
	case VitalStability:
		return v.Stability
	}
	return 0
}

// Core captures the three clamped vitals.
func (v Vitals) Core() Core {
	return Core{Energy: v.Energy, Integrity: v.Integrity, Stability: v.Stability}
}

// AtFloor reports which clamped vitals currently sit at their minimum.
func (v Vitals) AtFloor() []VitalName {
	var out []VitalName
	if v.Energy <= EnergyMin {
		out = append(out, VitalEnergy)
	}
	if v.Integrity <= IntegrityMin {
		out = append(out, VitalIntegrity)
	}
	if v.Stability <= StabilityMin {
		out = append(out, VitalStability)
	}
	return out
}

// InRange reports whether all clamped vitals are inside their bounds.
func (v Vitals) InRange() bool {
	return v.Energy >= EnergyMin && v.Energy <= EnergyMax &&
		v.Integrity >= IntegrityMin && v.Integrity <= IntegrityMax &&
		v.Stability >= StabilityMin && v.Stability <= StabilityMax
}

// #endregion vitals

// #region core

// Core is a value snapshot of energy, integrity and stability.
type Core struct {
	Energy    float64 `json:"energy"`
	Integrity float64 `json:"integrity"`
	Stability float64 `json:"stability"`
}

// Delta returns c - before for each vital.
func (c Core) Delta(before Core) Impact {
	return Impact{
		VitalEnergy:    c.Energy - before.Energy,
		VitalIntegrity: c.Integrity - before.Integrity,
		VitalStability: c.Stability - before.Stability,
	}
}

// #endregion core

// #region snapshot

// Snapshot is one persisted record of vitals plus the serialized memory trace.
type Snapshot struct {
	SnapshotID string
	ParentID   string
	Life       Life
	Vitals     Vitals
	MemoryJSON string
	CreatedAt  time.Time
}

// TickRow is one row of the append-only tick log.
type TickRow struct {
	LifeID     string
	Tick       uint64
	Age        float64
	Vitals     Vitals
	Mode       string
	EventsJSON string // event types processed, FIFO
	InputsJSON string // the same events with intensity, for replay export
	CreatedAt  time.Time
}

// #endregion snapshot

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
