package replay

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region fixture-tests

// TestFixture_ShockSequence is the main regression baseline: if appraisal,
// recall or executor costs drift, the expected vitals stop matching.
func TestFixture_ShockSequence(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "shock_sequence.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, err := RunFixture(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("RunFixture: %v", err)
	}
	if len(results) != len(f.Ticks) {
		t.Fatalf("expected %d results, got %d", len(f.Ticks), len(results))
	}
	for _, m := range Check(results, f.Expected, DefaultTolerance) {
		t.Error(m)
	}

	second := results[1].Observation
	if len(second.Actions) != 1 || second.Actions[0].Pattern != "dampen" {
		t.Errorf("expected the second shock to be dampened, got %+v", second.Actions)
	}
}

func TestFixture_FloorRecovery(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "floor_recovery.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, err := RunFixture(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("RunFixture: %v", err)
	}
	for _, m := range Check(results, f.Expected, DefaultTolerance) {
		t.Error(m)
	}
}

func TestLoadFixture_Errors(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	f := &Fixture{}
	if err := f.Save(bad); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadFixture(bad)
	if err != nil {
		t.Fatalf("LoadFixture after Save: %v", err)
	}
	if len(loaded.Ticks) != 0 {
		t.Errorf("expected empty fixture, got %d ticks", len(loaded.Ticks))
	}
}

func TestFixtureConfig_ZeroKeepsDefaults(t *testing.T) {
	fc := FixtureConfig{TickIntervalMS: 250, Feedback: FixtureFeedbackConfig{MaxDelay: 4}}
	cfg := fc.ToReplayConfig()
	def := DefaultReplayConfig()

	if cfg.Orchestrator.TickInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms interval, got %v", cfg.Orchestrator.TickInterval)
	}
	if cfg.Feedback.MaxDelay != 4 {
		t.Errorf("expected max delay 4, got %d", cfg.Feedback.MaxDelay)
	}
	if cfg.Feedback.MinDelay != def.Feedback.MinDelay || cfg.MemoryCapacity != def.MemoryCapacity {
		t.Error("expected zero fields to keep defaults")
	}
}

// #endregion fixture-tests

// #region export-tests

// recordLife runs ticks live-style and converts each observation to a tick row.
func recordLife(t *testing.T, seed uint64, ticks [][]FixtureEvent) []state.TickRow {
	t.Helper()
	results, err := Replay(context.Background(), Run{Seed: seed, Ticks: ticks})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	rows := make([]state.TickRow, len(results))
	for i, r := range results {
		inputs, _ := json.Marshal(r.Observation.Inputs)
		events, _ := json.Marshal(r.Observation.Events)
		rows[i] = state.TickRow{
			LifeID:     "replay",
			Tick:       r.Tick,
			Age:        r.Observation.Vitals.Age,
			Vitals:     r.Observation.Vitals,
			Mode:       string(r.Observation.Mode),
			EventsJSON: string(events),
			InputsJSON: string(inputs),
			CreatedAt:  r.Observation.At,
		}
	}
	return rows
}

func TestFixtureFromTicks_ExactRoundTrip(t *testing.T) {
	ticks := [][]FixtureEvent{
		{{Type: signals.EventNoise, Intensity: 0.4}, {Type: signals.EventDecay, Intensity: -0.3}},
		{{Type: signals.EventShock, Intensity: -0.6}},
		{},
		{{Type: signals.EventShock, Intensity: -0.6}, {Type: signals.EventRecovery, Intensity: 0.5}},
		{}, {}, {}, {}, {}, {}, {}, {},
	}
	rows := recordLife(t, 21, ticks)

	f, err := FixtureFromTicks(rows, ExportOptions{Description: "roundtrip", Seed: 21})
	if err != nil {
		t.Fatalf("FixtureFromTicks: %v", err)
	}
	if f.StartVitals != nil {
		t.Error("expected no start vitals for a log starting at tick 1")
	}
	if len(f.Expected) != len(rows) {
		t.Fatalf("expected %d expectations, got %d", len(rows), len(f.Expected))
	}

	path := filepath.Join(t.TempDir(), "export.json")
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	results, err := RunFixture(context.Background(), loaded, nil)
	if err != nil {
		t.Fatalf("RunFixture: %v", err)
	}
	for _, m := range Check(results, loaded.Expected, DefaultTolerance) {
		t.Error(m)
	}
}

func TestFixtureFromTicks_MidLifeUsesFirstRowAsStart(t *testing.T) {
	rows := recordLife(t, 5, [][]FixtureEvent{
		{{Type: signals.EventDecay, Intensity: -0.5}},
		{{Type: signals.EventNoise, Intensity: 0.2}},
		{},
	})
	f, err := FixtureFromTicks(rows[1:], ExportOptions{Seed: 5})
	if err != nil {
		t.Fatalf("FixtureFromTicks: %v", err)
	}
	if f.StartVitals == nil {
		t.Fatal("expected start vitals from the first exported row")
	}
	if f.StartVitals.Ticks != 0 || f.StartVitals.Energy != rows[1].Vitals.Energy {
		t.Errorf("unexpected start vitals: %+v", *f.StartVitals)
	}
	if len(f.Ticks) != 1 || len(f.Expected) != 0 {
		t.Errorf("expected 1 tick and no expectations, got %d/%d", len(f.Ticks), len(f.Expected))
	}
}

func TestFixtureFromTicks_FallsBackToTypes(t *testing.T) {
	rows := []state.TickRow{
		{Tick: 1, EventsJSON: `["shock","idle"]`, Mode: "active"},
	}
	f, err := FixtureFromTicks(rows, ExportOptions{Seed: 3})
	if err != nil {
		t.Fatalf("FixtureFromTicks: %v", err)
	}
	got := f.Ticks[0].Events
	if len(got) != 2 || got[0].Type != signals.EventShock || got[0].Intensity != 0 {
		t.Errorf("unexpected events: %+v", got)
	}
}

func TestFixtureFromTicks_Errors(t *testing.T) {
	if _, err := FixtureFromTicks(nil, ExportOptions{}); err == nil {
		t.Error("expected error for empty rows")
	}
	rows := []state.TickRow{{Tick: 1, InputsJSON: "{not json"}}
	if _, err := FixtureFromTicks(rows, ExportOptions{Seed: 1}); err == nil {
		t.Error("expected error for malformed inputs")
	}
}

// #endregion export-tests
