package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string            `json:"description"`
	Seed        uint64            `json:"seed"`
	StartTime   time.Time         `json:"start_time"`
	StartVitals *state.Vitals     `json:"start_vitals,omitempty"`
	Config      FixtureConfig     `json:"config"`
	Ticks       []FixtureTick     `json:"ticks"`
	Expected    []FixtureExpected `json:"expected,omitempty"`
}

// FixtureEvent is one injected event. IDs and timestamps are assigned on replay.
type FixtureEvent struct {
	Type      signals.EventType `json:"type"`
	Intensity float64           `json:"intensity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FixtureTick lists the events drained in one tick. An empty list is an idle tick.
type FixtureTick struct {
	Events []FixtureEvent `json:"events"`
}

// FixtureExpected pins the post-tick state of one tick. Nil fields are not checked.
type FixtureExpected struct {
	Tick      uint64   `json:"tick"`
	Mode      string   `json:"mode,omitempty"`
	Active    *bool    `json:"active,omitempty"`
	Energy    *float64 `json:"energy,omitempty"`
	Integrity *float64 `json:"integrity,omitempty"`
	Stability *float64 `json:"stability,omitempty"`
	MemoryLen *int     `json:"memory_len,omitempty"`
}

// FixtureConfig overrides replay parameters. Zero values keep the defaults.
type FixtureConfig struct {
	TickIntervalMS  int64                 `json:"tick_interval_ms,omitempty"`
	MemoryCapacity  int                   `json:"memory_capacity,omitempty"`
	ActivationLimit int                   `json:"activation_limit,omitempty"`
	StepPenalty     float64               `json:"step_penalty,omitempty"`
	Feedback        FixtureFeedbackConfig `json:"feedback,omitempty"`
}

// FixtureFeedbackConfig mirrors feedback.Config with JSON tags.
type FixtureFeedbackConfig struct {
	MinDelay int     `json:"min_delay,omitempty"`
	MaxDelay int     `json:"max_delay,omitempty"`
	Timeout  int     `json:"timeout,omitempty"`
	Epsilon  float64 `json:"epsilon,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// Inputs converts the fixture ticks into per-tick event batches.
func (f *Fixture) Inputs() [][]FixtureEvent {
	out := make([][]FixtureEvent, len(f.Ticks))
	for i, t := range f.Ticks {
		out[i] = t.Events
	}
	return out
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if fc.TickIntervalMS > 0 {
		cfg.Orchestrator.TickInterval = time.Duration(fc.TickIntervalMS) * time.Millisecond
	}
	if fc.MemoryCapacity > 0 {
		cfg.MemoryCapacity = fc.MemoryCapacity
	}
	if fc.ActivationLimit > 0 {
		cfg.Orchestrator.ActivationLimit = fc.ActivationLimit
	}
	if fc.StepPenalty > 0 {
		cfg.Orchestrator.StepPenalty = fc.StepPenalty
	}
	if fc.Feedback.MinDelay > 0 {
		cfg.Feedback.MinDelay = fc.Feedback.MinDelay
	}
	if fc.Feedback.MaxDelay > 0 {
		cfg.Feedback.MaxDelay = fc.Feedback.MaxDelay
	}
	if fc.Feedback.Timeout > 0 {
		cfg.Feedback.Timeout = fc.Feedback.Timeout
	}
	if fc.Feedback.Epsilon > 0 {
		cfg.Feedback.Epsilon = fc.Feedback.Epsilon
	}
	return cfg
}

// configFromReplay is the inverse of ToReplayConfig.
func configFromReplay(c ReplayConfig) FixtureConfig {
	return FixtureConfig{
		TickIntervalMS:  c.Orchestrator.TickInterval.Milliseconds(),
		MemoryCapacity:  c.MemoryCapacity,
		ActivationLimit: c.Orchestrator.ActivationLimit,
		StepPenalty:     c.Orchestrator.StepPenalty,
		Feedback: FixtureFeedbackConfig{
			MinDelay: c.Feedback.MinDelay,
			MaxDelay: c.Feedback.MaxDelay,
			Timeout:  c.Feedback.Timeout,
			Epsilon:  c.Feedback.Epsilon,
		},
	}
}

// #endregion fixture-loader

// #region fixture-export

// ExportOptions controls FixtureFromTicks.
type ExportOptions struct {
	Description string
	// Seed is the delay seed the recorded life ran with. Zero means unknown.
	Seed   uint64
	Config ReplayConfig
}

// FixtureFromTicks builds a fixture from tick log rows in chronological order.
//
// A log that starts at tick 1 with a known seed replays exactly, so the
// recorded vitals become expectations. Otherwise the first row only seeds
// StartVitals: retained memory and pending feedback are not in the log, so
// the replay is approximate and no expectations are written.
func FixtureFromTicks(rows []state.TickRow, opts ExportOptions) (*Fixture, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("export fixture: no tick rows")
	}
	if opts.Config.Orchestrator.TickInterval <= 0 {
		opts.Config = DefaultReplayConfig()
	}

	f := &Fixture{
		Description: opts.Description,
		Seed:        opts.Seed,
		Config:      configFromReplay(opts.Config),
	}

	exact := rows[0].Tick == 1 && opts.Seed != 0
	if !exact {
		start := rows[0].Vitals
		start.Ticks = 0
		start.Age = 0
		f.StartVitals = &start
		f.StartTime = rows[0].CreatedAt
		rows = rows[1:]
	} else {
		f.StartTime = rows[0].CreatedAt.Add(-opts.Config.Orchestrator.TickInterval)
	}

	for i, row := range rows {
		events, err := decodeInputs(row)
		if err != nil {
			return nil, fmt.Errorf("export fixture: tick %d: %w", row.Tick, err)
		}
		f.Ticks = append(f.Ticks, FixtureTick{Events: events})
		if !exact {
			continue
		}
		v := row.Vitals
		f.Expected = append(f.Expected, FixtureExpected{
			Tick:      uint64(i + 1),
			Mode:      row.Mode,
			Active:    &v.Active,
			Energy:    &v.Energy,
			Integrity: &v.Integrity,
			Stability: &v.Stability,
		})
	}
	return f, nil
}

// decodeInputs prefers the full input record and falls back to bare types.
func decodeInputs(row state.TickRow) ([]FixtureEvent, error) {
	if row.InputsJSON != "" {
		var events []signals.Event
		if err := json.Unmarshal([]byte(row.InputsJSON), &events); err != nil {
			return nil, fmt.Errorf("decode inputs: %w", err)
		}
		out := make([]FixtureEvent, len(events))
		for i, e := range events {
			out[i] = FixtureEvent{Type: e.Type, Intensity: e.Intensity, Metadata: e.Metadata}
		}
		return out, nil
	}
	if row.EventsJSON == "" {
		return []FixtureEvent{}, nil
	}
	var types []signals.EventType
	if err := json.Unmarshal([]byte(row.EventsJSON), &types); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	out := make([]FixtureEvent, len(types))
	for i, t := range types {
		out[i] = FixtureEvent{Type: t}
	}
	return out, nil
}

// #endregion fixture-export
