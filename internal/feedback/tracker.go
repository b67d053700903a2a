package feedback

import (
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region tracker

// Tracker owns the working set of pending actions. It is not safe for
// concurrent use; the tick loop is its only caller.
type Tracker struct {
	config  Config
	rng     *rand.Rand
	logger  *zap.Logger
	pending []*PendingAction
	stats   Stats
}

// NewTracker creates a tracker drawing delays from rng.
func NewTracker(config Config, rng *rand.Rand, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxDelay < config.MinDelay {
		config.MaxDelay = config.MinDelay
	}
	return &Tracker{
		config: config,
		rng:    rng,
		logger: logger.Named("feedback"),
	}
}

// NewRand returns the delay source for seed. A zero seed draws a random one.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// #endregion tracker

// #region register

// Register starts watching an action with a delay drawn uniformly from
// [MinDelay, MaxDelay].
func (t *Tracker) Register(actionID string, p meaning.Pattern, before state.Core, now time.Time, tick uint64) PendingAction {
	span := t.config.MaxDelay - t.config.MinDelay + 1
	return t.RegisterWithDelay(actionID, p, before, now, tick, t.rng.IntN(span)+t.config.MinDelay)
}

// RegisterWithDelay starts watching an action with an explicit delay.
func (t *Tracker) RegisterWithDelay(actionID string, p meaning.Pattern, before state.Core, now time.Time, tick uint64, delay int) PendingAction {
	pa := &PendingAction{
		ActionID:        actionID,
		Pattern:         p,
		Before:          before,
		Timestamp:       now,
		RegisteredTick:  tick,
		CheckAfterTicks: delay,
	}
	t.pending = append(t.pending, pa)
	t.stats.Registered++
	return *pa
}

// #endregion register

// #region advance

// Advance moves every pending action registered before tick one step forward
// and returns the records that matured, in registration order. Actions
// registered during tick are left untouched until the next call.
func (t *Tracker) Advance(current state.Core, associated []signals.EventType, now time.Time, tick uint64) []Record {
	var records []Record
	kept := t.pending[:0]

	for _, pa := range t.pending {
		if pa.RegisteredTick >= tick {
			kept = append(kept, pa)
			continue
		}
		pa.TicksWaited++

		switch {
		case pa.TicksWaited >= pa.CheckAfterTicks:
			delta := current.Delta(pa.Before)
			if !t.significant(delta) {
				t.stats.Discarded++
				continue
			}
			t.stats.Matured++
			records = append(records, Record{
				ActionID:         pa.ActionID,
				Pattern:          pa.Pattern,
				StateDelta:       delta,
				Timestamp:        now,
				DelayTicks:       pa.TicksWaited,
				AssociatedEvents: append([]signals.EventType(nil), associated...),
			})
		case pa.TicksWaited > t.config.Timeout:
			t.stats.TimedOut++
			t.logger.Debug("pending action timed out", zap.String("action_id", pa.ActionID))
		default:
			kept = append(kept, pa)
		}
	}
	for i := len(kept); i < len(t.pending); i++ {
		t.pending[i] = nil
	}
	t.pending = kept
	return records
}

func (t *Tracker) significant(delta state.Impact) bool {
	for _, d := range delta {
		if math.Abs(d) > t.config.Epsilon {
			return true
		}
	}
	return false
}

// #endregion advance

// #region accessors

// Pending returns copies of the actions still waiting.
func (t *Tracker) Pending() []PendingAction {
	out := make([]PendingAction, len(t.pending))
	for i, pa := range t.pending {
		out[i] = *pa
	}
	return out
}

// Len returns the number of actions still waiting.
func (t *Tracker) Len() int { return len(t.pending) }

// Stats returns lifetime counters.
func (t *Tracker) Stats() Stats { return t.stats }

// #endregion accessors
