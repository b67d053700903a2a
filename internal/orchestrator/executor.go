package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/memory"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region action-definitions

// Actions is the built-in cost table for each reaction pattern.
var Actions = map[meaning.Pattern]ActionConfig{
	meaning.PatternIgnore: {Pattern: meaning.PatternIgnore},
	meaning.PatternAbsorb: {Pattern: meaning.PatternAbsorb},
	meaning.PatternDampen: {
		Pattern:     meaning.PatternDampen,
		EnergyCost:  0.01,
		FatigueCost: 0.01,
	},
}

// #endregion

// #region executor

// Executor applies the direct effect of a reaction and leaves a trace of it
// in memory. Owned by the tick loop.
type Executor struct {
	memory  *memory.Store
	actions map[meaning.Pattern]ActionConfig
}

// NewExecutor creates an executor writing action traces to mem.
func NewExecutor(mem *memory.Store) *Executor {
	return &Executor{memory: mem, actions: Actions}
}

// Execute mutates v according to the pattern's cost, clamps it, and appends
// an action entry with zero significance. Unknown patterns cost nothing.
func (x *Executor) Execute(p meaning.Pattern, v *state.Vitals, eventID string, now time.Time) ActionRecord {
	cfg := x.actions[p]
	before := v.Core()

	v.Energy -= cfg.EnergyCost
	v.Fatigue += cfg.FatigueCost
	v.Clamp()

	rec := ActionRecord{
		ID:        uuid.New().String(),
		Pattern:   p,
		EventID:   eventID,
		Timestamp: now,
	}
	if cfg.EnergyCost != 0 {
		rec.Impact = v.Core().Delta(before)
	}

	x.memory.Append(memory.Entry{
		EventType: memory.TypeAction,
		Timestamp: now,
		Pattern:   p,
		ActionID:  rec.ID,
	})
	return rec
}

// #endregion
