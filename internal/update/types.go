package update

import "github.com/danielpatrickdp/organism/internal/state"

// #region decision
// Decision records what Apply did with the accumulated impact.
type Decision struct {
	Action string // "commit" | "no_op"
	Reason string
}
// #endregion decision

// #region metrics
// VitalMetric captures the requested and effective change of one vital.
type VitalMetric struct {
	Name      state.VitalName
	Requested float64
	Applied   float64 // after clamping
	Clamped   bool
}

// Metrics captures telemetry from one application.
type Metrics struct {
	DeltaNorm    float64 // L2 norm of applied core deltas
	VitalsHit    []state.VitalName
	VitalMetrics []VitalMetric
	Skipped      []state.VitalName // unknown names or non-finite deltas
	TensionGain  float64
}
// #endregion metrics

// #region config
// Config holds parameters for impact application.
type Config struct {
	// TensionRate converts damage to integrity and stability into tension.
	TensionRate float64
	// MaxDeltaPerVital caps |delta| per core vital per tick (0 = disabled).
	MaxDeltaPerVital float64
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		TensionRate:      1.0,
		MaxDeltaPerVital: 0,
	}
}
// #endregion config

// #region result
// Result bundles everything returned by Apply.
type Result struct {
	Vitals   state.Vitals
	Decision Decision
	Metrics  Metrics
}
// #endregion result
