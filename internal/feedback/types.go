package feedback

import (
	"time"

	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region config

// Config bounds the delayed observation window.
type Config struct {
	MinDelay int     // smallest check_after_ticks, inclusive
	MaxDelay int     // largest check_after_ticks, inclusive
	Timeout  int     // pending actions waiting longer than this are dropped
	Epsilon  float64 // deltas at or below this magnitude count as no change
}

// DefaultConfig returns a 3–10 tick delay with a 20 tick ceiling.
func DefaultConfig() Config {
	return Config{
		MinDelay: 3,
		MaxDelay: 10,
		Timeout:  20,
		Epsilon:  0.001,
	}
}

// #endregion config

// #region pending

// PendingAction is an executed action awaiting observation of its consequence.
type PendingAction struct {
	ActionID        string
	Pattern         meaning.Pattern
	Before          state.Core // captured strictly before execution
	Timestamp       time.Time
	RegisteredTick  uint64
	CheckAfterTicks int
	TicksWaited     int
}

// #endregion pending

// #region record

// Record is the net vital change attributed to one past action. Immutable once built.
type Record struct {
	ActionID         string              `json:"action_id"`
	Pattern          meaning.Pattern     `json:"pattern"`
	StateDelta       state.Impact        `json:"state_delta"`
	Timestamp        time.Time           `json:"timestamp"`
	DelayTicks       int                 `json:"delay_ticks"`
	AssociatedEvents []signals.EventType `json:"associated_events,omitempty"`
}

// #endregion record

// Stats counts how pending actions left the working set.
type Stats struct {
	Registered uint64 `json:"registered"`
	Matured    uint64 `json:"matured"`
	Discarded  uint64 `json:"discarded"`
	TimedOut   uint64 `json:"timed_out"`
}
