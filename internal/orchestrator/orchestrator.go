package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/organism/internal/eval"
	"github.com/danielpatrickdp/organism/internal/feedback"
	"github.com/danielpatrickdp/organism/internal/gate"
	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/memory"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
	"github.com/danielpatrickdp/organism/internal/telemetry"
	"github.com/danielpatrickdp/organism/internal/update"
)

// #endregion

// #region orchestrator-struct

// Orchestrator is the single owner of vitals, memory and pending feedback.
// Tick and Run must be driven from one goroutine; Latest is safe anywhere.
type Orchestrator struct {
	life   state.Life
	config Config
	queue  *signals.Queue
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	interpreter *meaning.Interpreter
	memory      *memory.Store
	executor    *Executor
	tracker     *feedback.Tracker
	gate        *gate.Gate
	harness     *eval.EvalHarness
	updateCfg   update.Config
	observers   []Observer

	vitals state.Vitals
	mode   gate.Mode
	health float64
	cur    tickScratch

	latest  atomic.Pointer[Observation]
	metrics instruments
}

// tickScratch collects what happened during the tick in progress.
type tickScratch struct {
	ctx      context.Context
	events   []signals.EventType
	inputs   []signals.Event
	actions  []ActionRecord
	feedback []feedback.Record
	failures int
}

// #endregion

// #region options

type options struct {
	config         Config
	logger         *zap.Logger
	interpreter    *meaning.Interpreter
	rng            *rand.Rand
	now            func() time.Time
	memoryCap      int
	feedbackConfig feedback.Config
	gateConfig     gate.GateConfig
	updateConfig   update.Config
	observers      []Observer
}

// Option customises an Orchestrator.
type Option func(*options)

// WithConfig sets the tick loop parameters.
func WithConfig(c Config) Option { return func(o *options) { o.config = c } }

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithInterpreter replaces the default meaning interpreter.
func WithInterpreter(i *meaning.Interpreter) Option { return func(o *options) { o.interpreter = i } }

// WithRand seeds feedback delay selection.
func WithRand(r *rand.Rand) Option { return func(o *options) { o.rng = r } }

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithMemoryCapacity sets the memory cap.
func WithMemoryCapacity(n int) Option { return func(o *options) { o.memoryCap = n } }

// WithFeedbackConfig sets the feedback delay window.
func WithFeedbackConfig(c feedback.Config) Option { return func(o *options) { o.feedbackConfig = c } }

// WithGateConfig sets the mode gate margins.
func WithGateConfig(c gate.GateConfig) Option { return func(o *options) { o.gateConfig = c } }

// WithUpdateConfig sets impact application parameters.
func WithUpdateConfig(c update.Config) Option { return func(o *options) { o.updateConfig = c } }

// WithObserver registers a callback for every published observation.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// #endregion

// #region constructor

// New creates an orchestrator for life draining queue. The initial
// observation (tick 0, default vitals) is published immediately.
func New(life state.Life, queue *signals.Queue, opts ...Option) *Orchestrator {
	o := options{
		config:         DefaultConfig(),
		now:            time.Now,
		memoryCap:      memory.DefaultCapacity,
		feedbackConfig: feedback.DefaultConfig(),
		gateConfig:     gate.DefaultGateConfig(),
		updateConfig:   update.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.interpreter == nil {
		o.interpreter = meaning.NewInterpreter()
	}
	if o.rng == nil {
		o.rng = feedback.NewRand(0)
	}
	if o.config.TickInterval <= 0 {
		o.config.TickInterval = DefaultConfig().TickInterval
	}
	if o.config.ActivationLimit <= 0 {
		o.config.ActivationLimit = memory.DefaultActivationLimit
	}

	logger := o.logger.Named("orch")
	mem := memory.NewStore(o.memoryCap)
	orch := &Orchestrator{
		life:        life,
		config:      o.config,
		queue:       queue,
		logger:      logger,
		tracer:      telemetry.Tracer("organism/orchestrator"),
		now:         o.now,
		interpreter: o.interpreter,
		memory:      mem,
		executor:    NewExecutor(mem),
		tracker:     feedback.NewTracker(o.feedbackConfig, o.rng, logger),
		gate:        gate.NewGate(o.gateConfig),
		harness: eval.NewEvalHarness(eval.EvalConfig{
			MemoryCap:       mem.Capacity(),
			FeedbackTimeout: o.feedbackConfig.Timeout,
			HealthBaseline:  eval.DefaultEvalConfig().HealthBaseline,
		}),
		updateCfg: o.updateConfig,
		observers: o.observers,
		vitals:    state.DefaultVitals(),
		mode:      gate.ModeActive,
	}
	orch.evaluateMode()
	orch.publish(orch.now().UTC(), eval.EvalResult{Passed: true, Reason: "initial"})
	orch.registerMetrics()
	return orch
}

// Restore loads vitals and memory from a snapshot taken by an earlier run of
// the same life. Must be called before the first tick.
func (o *Orchestrator) Restore(snap state.Snapshot) error {
	if snap.Life.ID != o.life.ID {
		return fmt.Errorf("restore snapshot: life %s does not match %s", snap.Life.ID, o.life.ID)
	}
	if err := o.memory.Restore([]byte(snap.MemoryJSON)); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	o.vitals = snap.Vitals
	o.vitals.Clamp()
	o.evaluateMode()
	o.publish(o.now().UTC(), eval.EvalResult{Passed: true, Reason: "restored"})
	o.logger.Info("restored from snapshot",
		zap.String("snapshot_id", snap.SnapshotID),
		zap.Uint64("ticks", o.vitals.Ticks),
		zap.Int("memory", o.memory.Len()),
	)
	return nil
}

// #endregion

// #region tick

// Tick runs one full cycle. The returned error is non-nil only for a
// catastrophic failure, in which case no observation is published.
func (o *Orchestrator) Tick(ctx context.Context) (Observation, error) {
	ctx, span := o.tracer.Start(ctx, "organism.tick")
	defer span.End()
	started := time.Now()

	now := o.now().UTC()
	prevTicks := o.vitals.Ticks
	o.cur = tickScratch{ctx: ctx}

	// 1. counters
	o.vitals.Ticks++
	o.vitals.Age += o.config.TickInterval.Seconds()
	tick := o.vitals.Ticks

	// 2. drain
	var events []signals.Event
	if err := o.step("drain", func() error {
		events = o.queue.PopAll()
		return nil
	}); err != nil {
		return o.halt(span, err)
	}

	// 3. per event
	impact := state.Impact{}
	for _, e := range events {
		if err := o.step("event", func() error {
			return o.processEvent(e, &impact, now, tick)
		}); err != nil {
			return o.halt(span, err)
		}
	}

	// 4. feedback
	if err := o.step("feedback", func() error {
		o.advanceFeedback(now, tick)
		return nil
	}); err != nil {
		return o.halt(span, err)
	}

	// 5. apply
	if err := o.step("apply", func() error {
		res := update.Apply(o.vitals, impact, o.updateCfg)
		o.vitals = res.Vitals
		if res.Decision.Action == "commit" {
			o.logger.Debug("impact applied", zap.String("reason", res.Decision.Reason))
		}
		return nil
	}); err != nil {
		return o.halt(span, err)
	}

	// 6. mode
	if err := o.step("mode", func() error {
		o.evaluateMode()
		return nil
	}); err != nil {
		return o.halt(span, err)
	}

	// 7. observe
	result := eval.EvalResult{Reason: "invariant check did not run"}
	if err := o.step("eval", func() error {
		result = o.harness.Run(eval.Sample{
			Vitals:         o.vitals,
			Degraded:       o.mode == gate.ModeDegraded,
			MemoryLen:      o.memory.Len(),
			MaxTicksWaited: o.maxTicksWaited(),
			Health:         o.health,
			PrevTicks:      prevTicks,
			HasPrev:        true,
		})
		return nil
	}); err != nil {
		return o.halt(span, err)
	}
	if !result.Passed {
		o.logger.Warn("tick invariant check failed", zap.Uint64("tick", tick), zap.String("reason", result.Reason))
	}

	var obs Observation
	published := false
	if err := o.step("publish", func() error {
		obs = o.publish(now, result)
		published = true
		add(ctx, o.metrics.ticks, 1)
		add(ctx, o.metrics.failures, int64(obs.Failures))
		add(ctx, o.metrics.feedback, int64(len(obs.Feedback)))
		if o.metrics.tickTime != nil {
			o.metrics.tickTime.Record(ctx, float64(time.Since(started).Microseconds())/1000)
		}
		return nil
	}); err != nil {
		return o.halt(span, err)
	}
	if !published {
		// the previous observation stays current; the penalty shows next tick
		obs = o.Latest()
	}
	span.SetAttributes(
		attribute.Int64("organism.tick", int64(tick)),
		attribute.Int("organism.events", len(events)),
		attribute.String("organism.mode", string(o.mode)),
	)

	o.notify(obs)
	return obs, nil
}

// processEvent runs interpret → activate → retain → decide → execute →
// register for a single event.
func (o *Orchestrator) processEvent(e signals.Event, impact *state.Impact, now time.Time, tick uint64) error {
	o.cur.events = append(o.cur.events, e.Type)
	o.cur.inputs = append(o.cur.inputs, e)
	add(o.cur.ctx, o.metrics.events, 1, attribute.String("type", string(e.Type)))

	m := o.interpreter.Interpret(e, o.vitals)
	*impact = impact.Add(m.Impact)

	// Activation runs before retention so an event never recalls itself.
	activated := o.memory.Activate(e.Type, o.config.ActivationLimit)
	if m.Significance > 0 {
		o.memory.Append(memory.Entry{
			EventType:    e.Type,
			Significance: m.Significance,
			Timestamp:    now,
		})
	}

	pattern := Decide(o.vitals, activated, m)
	before := o.vitals.Core()
	rec := o.executor.Execute(pattern, &o.vitals, e.ID, now)
	o.tracker.Register(rec.ID, pattern, before, now, tick)
	o.cur.actions = append(o.cur.actions, rec)
	add(o.cur.ctx, o.metrics.actions, 1, attribute.String("pattern", string(pattern)))

	o.logger.Debug("event handled",
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.Float64("significance", m.Significance),
		zap.String("hint", string(m.Hint)),
		zap.Int("activated", len(activated)),
		zap.String("pattern", string(pattern)),
	)
	return nil
}

func (o *Orchestrator) advanceFeedback(now time.Time, tick uint64) {
	records := o.tracker.Advance(o.vitals.Core(), o.queue.PeekTypes(), now, tick)
	for i := range records {
		rec := records[i]
		o.memory.Append(memory.Entry{
			EventType: memory.TypeFeedback,
			Timestamp: rec.Timestamp,
			Pattern:   rec.Pattern,
			ActionID:  rec.ActionID,
			Feedback:  &rec,
		})
		o.logger.Debug("feedback matured",
			zap.String("action_id", rec.ActionID),
			zap.String("pattern", string(rec.Pattern)),
			zap.Int("delay_ticks", rec.DelayTicks),
		)
	}
	o.cur.feedback = append(o.cur.feedback, records...)
}

func (o *Orchestrator) evaluateMode() {
	d := o.gate.Evaluate(o.vitals)
	if d.Mode != o.mode {
		o.logger.Info("mode changed",
			zap.String("from", string(o.mode)),
			zap.String("to", string(d.Mode)),
			zap.String("reason", d.Reason),
		)
	}
	for _, w := range d.Warnings {
		o.logger.Debug("vital near floor", zap.String("vital", string(w.Vital)), zap.Float64("value", w.Value))
	}
	o.mode = d.Mode
	o.health = d.Health
	o.vitals.Active = !d.Degraded
}

// #endregion

// #region failure-handling

// step runs fn, turning a panic or returned error into an integrity penalty.
// Only errors wrapping ErrCatastrophic escape.
func (o *Orchestrator) step(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("step %s panicked: %w", name, e)
			} else {
				err = fmt.Errorf("step %s panicked: %v", name, r)
			}
		}
		if err == nil || errors.Is(err, ErrCatastrophic) {
			return
		}
		o.cur.failures++
		o.vitals.Integrity -= o.config.StepPenalty
		o.vitals.Clamp()
		o.logger.Warn("tick step failed",
			zap.String("step", name),
			zap.Uint64("tick", o.vitals.Ticks),
			zap.Float64("integrity", o.vitals.Integrity),
			zap.Error(err),
		)
		err = nil
	}()
	return fn()
}

func (o *Orchestrator) halt(span trace.Span, err error) (Observation, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.logger.Error("catastrophic tick failure", zap.Uint64("tick", o.vitals.Ticks), zap.Error(err))
	return Observation{}, err
}

// #endregion

// #region publish

func (o *Orchestrator) publish(now time.Time, result eval.EvalResult) Observation {
	obs := Observation{
		Life:           o.life,
		Vitals:         o.vitals,
		Mode:           o.mode,
		Health:         o.health,
		At:             now,
		Events:         o.cur.events,
		Inputs:         o.cur.inputs,
		Actions:        o.cur.actions,
		Feedback:       o.cur.feedback,
		Memory:         o.memory.Entries(),
		Failures:       o.cur.failures,
		Pending:        o.tracker.Len(),
		MaxTicksWaited: o.maxTicksWaited(),
		FeedbackStats:  o.tracker.Stats(),
		Queue: QueueStats{
			Len:      o.queue.Len(),
			Capacity: o.queue.Capacity(),
			Accepted: o.queue.Accepted(),
			Dropped:  o.queue.Dropped(),
		},
		Eval: result,
	}
	o.latest.Store(&obs)
	o.cur = tickScratch{ctx: o.cur.ctx}
	return obs.clone()
}

func (o *Orchestrator) notify(obs Observation) {
	for _, fn := range o.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Warn("observer panicked", zap.Any("panic", r))
				}
			}()
			fn(obs.clone())
		}()
	}
}

func (o *Orchestrator) maxTicksWaited() int {
	var m int
	for _, pa := range o.tracker.Pending() {
		if pa.TicksWaited > m {
			m = pa.TicksWaited
		}
	}
	return m
}

// Latest returns the most recently published observation.
func (o *Orchestrator) Latest() Observation {
	return o.latest.Load().clone()
}

// Life returns the identity this orchestrator ticks for.
func (o *Orchestrator) Life() state.Life { return o.life }

// #endregion

// #region run

// Run ticks at the configured interval until ctx is cancelled or a
// catastrophic failure occurs. Cancellation returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.config.TickInterval)
	defer ticker.Stop()

	o.logger.Info("tick loop started",
		zap.String("life_id", o.life.ID),
		zap.Duration("interval", o.config.TickInterval),
		zap.Uint64("ticks", o.vitals.Ticks),
	)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("tick loop stopped", zap.Uint64("ticks", o.vitals.Ticks))
			return nil
		case <-ticker.C:
			if _, err := o.Tick(ctx); err != nil {
				return fmt.Errorf("tick %d: %w", o.vitals.Ticks, err)
			}
		}
	}
}

// #endregion

// #region snapshot

// SnapshotOf converts an observation into a persistable snapshot.
func SnapshotOf(obs Observation) (state.Snapshot, error) {
	entries := obs.Memory
	if entries == nil {
		entries = []memory.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("encode memory: %w", err)
	}
	return state.Snapshot{
		Life:       obs.Life,
		Vitals:     obs.Vitals,
		MemoryJSON: string(data),
	}, nil
}

// TickRowOf converts an observation into a tick_log row.
func TickRowOf(obs Observation) (state.TickRow, error) {
	events, inputs := "[]", "[]"
	if len(obs.Events) > 0 {
		data, err := json.Marshal(obs.Events)
		if err != nil {
			return state.TickRow{}, fmt.Errorf("encode events: %w", err)
		}
		events = string(data)
	}
	if len(obs.Inputs) > 0 {
		data, err := json.Marshal(obs.Inputs)
		if err != nil {
			return state.TickRow{}, fmt.Errorf("encode inputs: %w", err)
		}
		inputs = string(data)
	}
	return state.TickRow{
		LifeID:     obs.Life.ID,
		Tick:       obs.Tick(),
		Age:        obs.Vitals.Age,
		Vitals:     obs.Vitals,
		Mode:       string(obs.Mode),
		EventsJSON: events,
		InputsJSON: inputs,
		CreatedAt:  obs.At,
	}, nil
}

// #endregion
