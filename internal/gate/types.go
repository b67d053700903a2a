package gate

import "github.com/danielpatrickdp/organism/internal/state"

// #region mode
// Mode is the operating mode of the organism. There is no terminal mode.
type Mode string

const (
	ModeActive   Mode = "active"
	ModeDegraded Mode = "degraded"
)

// #endregion mode

// #region floor-signal
// FloorSignal reports a core vital sitting at (or close to) its floor.
type FloorSignal struct {
	Vital  state.VitalName
	Value  float64
	Reason string
}

// #endregion floor-signal

// #region gate-config
// GateConfig holds the warning margins above each floor.
type GateConfig struct {
	WarnEnergy    float64 // energy at or below this raises a warning
	WarnIntegrity float64
	WarnStability float64
}

// DefaultGateConfig returns the standard warning margins.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		WarnEnergy:    10,
		WarnIntegrity: 0.1,
		WarnStability: 0.1,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of a mode evaluation.
type GateDecision struct {
	Mode         Mode
	Reason       string
	Degraded     bool
	FloorSignals []FloorSignal // non-empty iff degraded
	Warnings     []FloorSignal // near-floor vitals, logged only
	Health       float64       // 0-1 composite of normalised core vitals
}

// #endregion gate-decision
