package memory

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/organism/internal/feedback"
	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func entry(t signals.EventType, sig float64, offset int) Entry {
	return Entry{EventType: t, Significance: sig, Timestamp: t0.Add(time.Duration(offset) * time.Second)}
}

func TestAppend_EvictsOldestBeyondCap(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 51; i++ {
		s.Append(entry(signals.EventNoise, 0.1, i))
	}
	require.Equal(t, 50, s.Len())
	entries := s.Entries()
	assert.Equal(t, t0.Add(time.Second), entries[0].Timestamp, "first inserted entry is gone")
	assert.Equal(t, t0.Add(50*time.Second), entries[49].Timestamp)
	assert.Equal(t, uint64(1), s.Evicted())
}

func TestAppend_BoundHoldsUnderLongRun(t *testing.T) {
	s := NewStore(5)
	for i := 0; i < 1000; i++ {
		s.Append(entry(signals.EventDecay, float64(i%10)/10, i))
		require.LessOrEqual(t, s.Len(), 5)
	}
	assert.Equal(t, t0.Add(995*time.Second), s.Entries()[0].Timestamp)
}

func TestActivate_RanksAndLimits(t *testing.T) {
	s := NewStore(10)
	s.Append(entry(signals.EventShock, 0.4, 0))
	s.Append(entry(signals.EventNoise, 0.9, 1))
	s.Append(entry(signals.EventShock, 0.8, 2))
	s.Append(entry(signals.EventShock, 0.4, 3))
	s.Append(entry(signals.EventShock, 0.6, 4))

	got := s.Activate(signals.EventShock, DefaultActivationLimit)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{0.8, 0.6, 0.4}, []float64{got[0].Significance, got[1].Significance, got[2].Significance})
	// tie at 0.4: the earlier insertion wins
	assert.Equal(t, t0, got[2].Timestamp)
}

func TestActivate_Deterministic(t *testing.T) {
	var entries []Entry
	for i := 0; i < 20; i++ {
		entries = append(entries, entry(signals.EventDecay, float64(i%4)/4, i))
	}
	first := Activate(signals.EventDecay, entries, 3)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Activate(signals.EventDecay, entries, 3)); diff != "" {
			t.Fatalf("activation changed (-first +again):\n%s", diff)
		}
	}
}

func TestActivate_EmptyAndNoMutation(t *testing.T) {
	s := NewStore(10)
	assert.Empty(t, s.Activate(signals.EventShock, 3))

	s.Append(entry(signals.EventShock, 0.2, 0))
	s.Append(entry(signals.EventShock, 0.7, 1))
	before := s.Entries()
	got := s.Activate(signals.EventShock, 3)
	got[0].Significance = 0
	assert.Equal(t, before, s.Entries(), "activation must not reorder or alias the store")
	assert.Empty(t, s.Activate(signals.EventShock, 0))
}

func TestMaxSignificance(t *testing.T) {
	assert.Equal(t, 0.0, MaxSignificance(nil))
	assert.Equal(t, 0.8, MaxSignificance([]Entry{entry(signals.EventShock, 0.3, 0), entry(signals.EventShock, 0.8, 1)}))
}

func TestRestore_KeepsFeedbackData(t *testing.T) {
	s := NewStore(10)
	s.Append(entry(signals.EventShock, 0.8, 0))
	s.Append(Entry{EventType: TypeAction, Timestamp: t0, Pattern: meaning.PatternDampen, ActionID: "a1"})
	s.Append(Entry{EventType: TypeFeedback, Timestamp: t0, Feedback: &feedback.Record{
		ActionID:   "a1",
		Pattern:    meaning.PatternDampen,
		StateDelta: state.Impact{state.VitalEnergy: -0.02},
		Timestamp:  t0,
		DelayTicks: 5,
	}})

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"feedback_data"`)

	restored := NewStore(10)
	require.NoError(t, restored.Restore(data))
	if diff := cmp.Diff(s.Entries(), restored.Entries()); diff != "" {
		t.Fatalf("restore mismatch (-want +got):\n%s", diff)
	}
}

func TestRestore_TrimsToCapacityAndRejectsGarbage(t *testing.T) {
	big := NewStore(10)
	for i := 0; i < 10; i++ {
		big.Append(entry(signals.EventNoise, 0.2, i))
	}
	data, err := big.MarshalJSON()
	require.NoError(t, err)

	small := NewStore(4)
	require.NoError(t, small.Restore(data))
	require.Equal(t, 4, small.Len())
	assert.Equal(t, t0.Add(6*time.Second), small.Entries()[0].Timestamp)

	assert.Error(t, small.Restore([]byte("{nope")))
	require.NoError(t, small.Restore(nil))
	assert.Equal(t, 0, small.Len())

	empty, err := NewStore(3).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}
