package orchestrator

// #region imports
import (
	"errors"
	"maps"
	"time"

	"github.com/danielpatrickdp/organism/internal/eval"
	"github.com/danielpatrickdp/organism/internal/feedback"
	"github.com/danielpatrickdp/organism/internal/gate"
	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/memory"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #endregion

// #region errors

// ErrCatastrophic marks a failure the tick loop cannot absorb. Any step error
// or panic value wrapping it halts Run; everything else costs integrity.
var ErrCatastrophic = errors.New("catastrophic failure")

// #endregion

// #region action-config

// ActionConfig defines the direct vital cost of reacting with a pattern.
type ActionConfig struct {
	Pattern     meaning.Pattern
	EnergyCost  float64
	FatigueCost float64
}

// #endregion

// #region action-record

// ActionRecord describes one executed reaction.
type ActionRecord struct {
	ID        string          `json:"id"`
	Pattern   meaning.Pattern `json:"pattern"`
	EventID   string          `json:"event_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Impact    state.Impact    `json:"impact,omitempty"`
}

// #endregion

// #region queue-stats

// QueueStats is a point-in-time view of the event queue counters.
type QueueStats struct {
	Len      int   `json:"len"`
	Capacity int   `json:"capacity"`
	Accepted int64 `json:"accepted"`
	Dropped  int64 `json:"dropped"`
}

// #endregion

// #region observation

// Observation is the read-only view published at the end of every tick.
// Nothing in it aliases orchestrator state.
type Observation struct {
	Life     state.Life          `json:"life"`
	Vitals   state.Vitals        `json:"vitals"`
	Mode     gate.Mode           `json:"mode"`
	Health   float64             `json:"health"`
	At       time.Time           `json:"at"`
	Events   []signals.EventType `json:"events,omitempty"` // processed this tick, FIFO
	Inputs   []signals.Event     `json:"inputs,omitempty"`
	Actions  []ActionRecord      `json:"actions,omitempty"`
	Feedback []feedback.Record   `json:"feedback,omitempty"` // matured this tick
	Memory   []memory.Entry      `json:"memory"`
	Failures int                 `json:"failures"` // recovered step failures this tick

	Pending        int             `json:"pending"`
	MaxTicksWaited int             `json:"max_ticks_waited"`
	FeedbackStats  feedback.Stats  `json:"feedback_stats"`
	Queue          QueueStats      `json:"queue"`
	Eval           eval.EvalResult `json:"eval"`
}

// Tick returns the tick counter carried in the vitals.
func (o Observation) Tick() uint64 { return o.Vitals.Ticks }

// clone deep-copies every slice, map and feedback pointer so callers can
// never reach published or orchestrator-owned state.
func (o Observation) clone() Observation {
	o.Events = append([]signals.EventType(nil), o.Events...)
	o.Inputs = append([]signals.Event(nil), o.Inputs...)
	for i := range o.Inputs {
		o.Inputs[i].Metadata = maps.Clone(o.Inputs[i].Metadata)
	}
	o.Actions = append([]ActionRecord(nil), o.Actions...)
	for i := range o.Actions {
		o.Actions[i].Impact = o.Actions[i].Impact.Clone()
	}
	o.Feedback = append([]feedback.Record(nil), o.Feedback...)
	for i := range o.Feedback {
		o.Feedback[i] = cloneRecord(o.Feedback[i])
	}
	o.Memory = append([]memory.Entry(nil), o.Memory...)
	for i := range o.Memory {
		if fb := o.Memory[i].Feedback; fb != nil {
			rec := cloneRecord(*fb)
			o.Memory[i].Feedback = &rec
		}
	}
	o.Eval.Metrics = append([]eval.EvalMetric(nil), o.Eval.Metrics...)
	return o
}

func cloneRecord(r feedback.Record) feedback.Record {
	r.StateDelta = r.StateDelta.Clone()
	r.AssociatedEvents = append([]signals.EventType(nil), r.AssociatedEvents...)
	return r
}

// #endregion

// #region config

// Config holds the tick loop parameters.
type Config struct {
	TickInterval    time.Duration
	ActivationLimit int
	// StepPenalty is the integrity lost for each recovered step failure.
	StepPenalty float64
}

// DefaultConfig returns a one-second tick with the standard penalty.
func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		ActivationLimit: memory.DefaultActivationLimit,
		StepPenalty:     0.05,
	}
}

// #endregion

// #region observer

// Observer receives every published observation on the tick goroutine.
// Implementations must not block.
type Observer func(Observation)

// #endregion
