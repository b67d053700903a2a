// Package replay re-runs recorded event streams through the tick pipeline
// with a fixed seed and clock, so a life can be reproduced offline.
package replay

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/organism/internal/eval"
	"github.com/danielpatrickdp/organism/internal/feedback"
	"github.com/danielpatrickdp/organism/internal/gate"
	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/memory"
	"github.com/danielpatrickdp/organism/internal/orchestrator"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
	"github.com/danielpatrickdp/organism/internal/update"
)

// #region types

// ReplayConfig bundles the tick loop parameters for a replay run.
type ReplayConfig struct {
	Orchestrator   orchestrator.Config
	MemoryCapacity int
	Feedback       feedback.Config
	Gate           gate.GateConfig
	Update         update.Config
}

// DefaultReplayConfig returns the same parameters a default daemon runs with.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Orchestrator:   orchestrator.DefaultConfig(),
		MemoryCapacity: memory.DefaultCapacity,
		Feedback:       feedback.DefaultConfig(),
		Gate:           gate.DefaultGateConfig(),
		Update:         update.DefaultConfig(),
	}
}

// Run describes one replay: where to start and what to feed.
type Run struct {
	Seed        uint64
	StartTime   time.Time
	StartVitals *state.Vitals // nil starts from default vitals
	Ticks       [][]FixtureEvent
	Config      ReplayConfig
	Logger      *zap.Logger
}

// ReplayResult captures the outcome of one replayed tick.
type ReplayResult struct {
	Tick        uint64
	Observation orchestrator.Observation
	Eval        eval.EvalResult
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTicks      int
	EventsProcessed int
	Actions         map[meaning.Pattern]int
	FeedbackRecords int
	DegradedTicks   int
	StepFailures    int
	EvalFailures    int
	FinalVitals     state.Vitals
}

// #endregion types

// #region replay

// replayLife is the fixed identity every replay runs under.
var replayLife = state.Life{ID: "replay"}

// Replay feeds each tick's events into a fresh orchestrator and ticks once
// per entry. The same Run always yields the same vitals trajectory.
func Replay(ctx context.Context, run Run) ([]ReplayResult, error) {
	cfg := run.Config
	if cfg.Orchestrator.TickInterval <= 0 {
		cfg = DefaultReplayConfig()
	}
	start := run.StartTime
	if start.IsZero() {
		start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	seed := run.Seed
	if seed == 0 {
		seed = 1
	}

	clock := start
	life := replayLife
	life.BornAt = start
	queue := signals.NewQueue(signals.DefaultQueueCapacity)
	orch := orchestrator.New(life, queue,
		orchestrator.WithConfig(cfg.Orchestrator),
		orchestrator.WithLogger(run.Logger),
		orchestrator.WithRand(feedback.NewRand(seed)),
		orchestrator.WithClock(func() time.Time { return clock }),
		orchestrator.WithMemoryCapacity(cfg.MemoryCapacity),
		orchestrator.WithFeedbackConfig(cfg.Feedback),
		orchestrator.WithGateConfig(cfg.Gate),
		orchestrator.WithUpdateConfig(cfg.Update),
	)
	if run.StartVitals != nil {
		if err := orch.Restore(state.Snapshot{Life: life, Vitals: *run.StartVitals, MemoryJSON: "[]"}); err != nil {
			return nil, fmt.Errorf("replay start: %w", err)
		}
	}

	results := make([]ReplayResult, 0, len(run.Ticks))
	for i, batch := range run.Ticks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		clock = start.Add(time.Duration(i+1) * cfg.Orchestrator.TickInterval)
		for _, fe := range batch {
			// Overflow drops here exactly as it would live.
			queue.Push(signals.NewEvent(fe.Type, fe.Intensity, clock, fe.Metadata))
		}
		obs, err := orch.Tick(ctx)
		if err != nil {
			return results, fmt.Errorf("replay tick %d: %w", i+1, err)
		}
		results = append(results, ReplayResult{
			Tick:        obs.Tick(),
			Observation: obs,
			Eval:        obs.Eval,
		})
	}
	return results, nil
}

// RunFixture replays f and returns the per-tick results.
func RunFixture(ctx context.Context, f *Fixture, logger *zap.Logger) ([]ReplayResult, error) {
	return Replay(ctx, Run{
		Seed:        f.Seed,
		StartTime:   f.StartTime,
		StartVitals: f.StartVitals,
		Ticks:       f.Inputs(),
		Config:      f.Config.ToReplayConfig(),
		Logger:      logger,
	})
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{
		TotalTicks: len(results),
		Actions:    map[meaning.Pattern]int{},
	}
	for _, r := range results {
		obs := r.Observation
		s.EventsProcessed += len(obs.Events)
		for _, a := range obs.Actions {
			s.Actions[a.Pattern]++
		}
		s.FeedbackRecords += len(obs.Feedback)
		s.StepFailures += obs.Failures
		if obs.Mode == gate.ModeDegraded {
			s.DegradedTicks++
		}
		if !r.Eval.Passed {
			s.EvalFailures++
		}
		s.FinalVitals = obs.Vitals
	}
	return s
}

// #endregion replay

// #region check

// DefaultTolerance is the absolute slack allowed on expected vitals.
const DefaultTolerance = 1e-9

// Mismatch describes one expectation that replay did not meet.
type Mismatch struct {
	Tick  uint64
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("tick %d %s: want %s, got %s", m.Tick, m.Field, m.Want, m.Got)
}

// Check compares results against expectations. A missing tick is a mismatch.
func Check(results []ReplayResult, expected []FixtureExpected, tol float64) []Mismatch {
	byTick := make(map[uint64]orchestrator.Observation, len(results))
	for _, r := range results {
		byTick[r.Tick] = r.Observation
	}

	var out []Mismatch
	for _, exp := range expected {
		obs, ok := byTick[exp.Tick]
		if !ok {
			out = append(out, Mismatch{Tick: exp.Tick, Field: "tick", Want: "present", Got: "missing"})
			continue
		}
		if exp.Mode != "" && string(obs.Mode) != exp.Mode {
			out = append(out, Mismatch{Tick: exp.Tick, Field: "mode", Want: exp.Mode, Got: string(obs.Mode)})
		}
		if exp.Active != nil && obs.Vitals.Active != *exp.Active {
			out = append(out, Mismatch{Tick: exp.Tick, Field: "active",
				Want: fmt.Sprint(*exp.Active), Got: fmt.Sprint(obs.Vitals.Active)})
		}
		out = checkFloat(out, exp.Tick, "energy", exp.Energy, obs.Vitals.Energy, tol)
		out = checkFloat(out, exp.Tick, "integrity", exp.Integrity, obs.Vitals.Integrity, tol)
		out = checkFloat(out, exp.Tick, "stability", exp.Stability, obs.Vitals.Stability, tol)
		if exp.MemoryLen != nil && len(obs.Memory) != *exp.MemoryLen {
			out = append(out, Mismatch{Tick: exp.Tick, Field: "memory_len",
				Want: fmt.Sprint(*exp.MemoryLen), Got: fmt.Sprint(len(obs.Memory))})
		}
	}
	return out
}

func checkFloat(out []Mismatch, tick uint64, field string, want *float64, got, tol float64) []Mismatch {
	if want == nil || math.Abs(*want-got) <= tol {
		return out
	}
	return append(out, Mismatch{Tick: tick, Field: field,
		Want: fmt.Sprintf("%.6f", *want), Got: fmt.Sprintf("%.6f", got)})
}

// #endregion check
