package feedback

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTracker(seed uint64) *Tracker {
	return NewTracker(DefaultConfig(), rand.New(rand.NewPCG(seed, seed)), nil)
}

func TestAdvance_MaturesWithDelta(t *testing.T) {
	tr := newTracker(1)
	before := state.Core{Energy: 50, Integrity: 1, Stability: 1}
	tr.RegisterWithDelay("a1", meaning.PatternDampen, before, t0, 1, 5)

	after := state.Core{Energy: 49.98, Integrity: 1, Stability: 1}
	var records []Record
	for tick := uint64(1); tick <= 6; tick++ {
		records = append(records, tr.Advance(after, nil, t0, tick)...)
	}

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "a1", rec.ActionID)
	assert.Equal(t, meaning.PatternDampen, rec.Pattern)
	assert.Equal(t, 5, rec.DelayTicks)
	assert.InDelta(t, -0.02, rec.StateDelta[state.VitalEnergy], 1e-9)
	assert.InDelta(t, 0, rec.StateDelta[state.VitalIntegrity], 1e-9)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, uint64(1), tr.Stats().Matured)
}

func TestAdvance_NotAdvancedInRegistrationTick(t *testing.T) {
	tr := newTracker(1)
	tr.RegisterWithDelay("a1", meaning.PatternAbsorb, state.Core{}, t0, 7, 3)

	tr.Advance(state.Core{}, nil, t0, 7)
	require.Equal(t, 0, tr.Pending()[0].TicksWaited)

	tr.Advance(state.Core{}, nil, t0, 8)
	require.Equal(t, 1, tr.Pending()[0].TicksWaited)
}

func TestAdvance_NoChangeDiscardsSilently(t *testing.T) {
	tr := newTracker(1)
	core := state.Core{Energy: 100, Integrity: 1, Stability: 1}
	tr.RegisterWithDelay("a1", meaning.PatternIgnore, core, t0, 1, 3)

	var records []Record
	for tick := uint64(2); tick <= 4; tick++ {
		nudged := core
		nudged.Energy += 0.0005 // below epsilon
		records = append(records, tr.Advance(nudged, nil, t0, tick)...)
	}
	assert.Empty(t, records)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, uint64(1), tr.Stats().Discarded)
}

func TestAdvance_TimeoutDiscards(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(cfg, rand.New(rand.NewPCG(1, 1)), nil)
	// delay beyond the ceiling can only leave by timeout
	tr.RegisterWithDelay("late", meaning.PatternAbsorb, state.Core{}, t0, 0, 50)

	moved := state.Core{Energy: 10}
	for tick := uint64(1); tick <= uint64(cfg.Timeout); tick++ {
		require.Empty(t, tr.Advance(moved, nil, t0, tick))
		require.Equal(t, 1, tr.Len(), "tick %d", tick)
	}
	require.Empty(t, tr.Advance(moved, nil, t0, uint64(cfg.Timeout)+1))
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, uint64(1), tr.Stats().TimedOut)
}

func TestRegister_DelayWithinBounds(t *testing.T) {
	tr := newTracker(42)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		pa := tr.Register("x", meaning.PatternAbsorb, state.Core{}, t0, 0)
		require.GreaterOrEqual(t, pa.CheckAfterTicks, 3)
		require.LessOrEqual(t, pa.CheckAfterTicks, 10)
		seen[pa.CheckAfterTicks] = true
	}
	assert.Len(t, seen, 8, "every delay in [3,10] should be drawn")
}

func TestRegister_SeedIsReproducible(t *testing.T) {
	a, b := newTracker(9), newTracker(9)
	for i := 0; i < 50; i++ {
		da := a.Register("x", meaning.PatternAbsorb, state.Core{}, t0, 0).CheckAfterTicks
		db := b.Register("x", meaning.PatternAbsorb, state.Core{}, t0, 0).CheckAfterTicks
		require.Equal(t, da, db)
	}
}

func TestAdvance_DelayBoundHoldsForRandomActions(t *testing.T) {
	tr := newTracker(3)
	for tick := uint64(1); tick <= 30; tick++ {
		tr.Register("x", meaning.PatternDampen, state.Core{Energy: 50}, t0, tick)
		for _, rec := range tr.Advance(state.Core{Energy: 40}, nil, t0, tick) {
			require.GreaterOrEqual(t, rec.DelayTicks, 3)
			require.LessOrEqual(t, rec.DelayTicks, 10)
		}
		for _, pa := range tr.Pending() {
			require.LessOrEqual(t, pa.TicksWaited, 10)
		}
	}
}

func TestAdvance_RegistrationOrderAndAssociatedEvents(t *testing.T) {
	tr := newTracker(1)
	tr.RegisterWithDelay("first", meaning.PatternAbsorb, state.Core{Energy: 50}, t0, 1, 3)
	tr.RegisterWithDelay("second", meaning.PatternDampen, state.Core{Energy: 50}, t0, 1, 3)
	tr.RegisterWithDelay("slow", meaning.PatternDampen, state.Core{Energy: 50}, t0, 1, 6)

	assoc := []signals.EventType{signals.EventShock, signals.EventNoise}
	var records []Record
	for tick := uint64(2); tick <= 4; tick++ {
		records = append(records, tr.Advance(state.Core{Energy: 45}, assoc, t0, tick)...)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].ActionID)
	assert.Equal(t, "second", records[1].ActionID)
	assert.Equal(t, assoc, records[0].AssociatedEvents)

	assoc[0] = signals.EventIdle
	assert.Equal(t, signals.EventShock, records[0].AssociatedEvents[0], "records must not alias caller slices")
	assert.Equal(t, 1, tr.Len())
}

func TestAdvance_DeltaIsPostMinusPre(t *testing.T) {
	tr := newTracker(1)
	tr.RegisterWithDelay("a", meaning.PatternAbsorb, state.Core{Energy: 60, Integrity: 0.5, Stability: 0.9}, t0, 0, 3)
	var rec []Record
	for tick := uint64(1); tick <= 3; tick++ {
		rec = append(rec, tr.Advance(state.Core{Energy: 70, Integrity: 0.4, Stability: 0.9}, nil, t0, tick)...)
	}
	require.Len(t, rec, 1)
	assert.InDelta(t, 10, rec[0].StateDelta[state.VitalEnergy], 1e-9)
	assert.InDelta(t, -0.1, rec[0].StateDelta[state.VitalIntegrity], 1e-9)
	assert.True(t, math.Abs(rec[0].StateDelta[state.VitalStability]) < 1e-9)
}

func TestNewRand_SameSeedSameDelays(t *testing.T) {
	a := NewTracker(DefaultConfig(), NewRand(99), nil)
	b := NewTracker(DefaultConfig(), NewRand(99), nil)
	for i := 0; i < 20; i++ {
		pa := a.Register("x", meaning.PatternAbsorb, state.Core{}, t0, 0)
		pb := b.Register("x", meaning.PatternAbsorb, state.Core{}, t0, 0)
		assert.Equal(t, pa.CheckAfterTicks, pb.CheckAfterTicks)
	}
	assert.NotNil(t, NewRand(0))
}
