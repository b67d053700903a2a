package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/danielpatrickdp/organism/internal/telemetry"
)

// instruments holds the synchronous OTEL instruments updated by the tick loop.
type instruments struct {
	ticks    metric.Int64Counter
	events   metric.Int64Counter
	actions  metric.Int64Counter
	failures metric.Int64Counter
	feedback metric.Int64Counter
	tickTime metric.Float64Histogram
}

// registerMetrics creates counters and the observable vitals gauges. Errors
// from the meter leave a nil instrument, which add() skips.
func (o *Orchestrator) registerMetrics() {
	meter := telemetry.Meter("organism/orchestrator")

	o.metrics.ticks, _ = meter.Int64Counter("organism.ticks",
		metric.WithDescription("Ticks completed"))
	o.metrics.events, _ = meter.Int64Counter("organism.events",
		metric.WithDescription("Events processed, by type"))
	o.metrics.actions, _ = meter.Int64Counter("organism.actions",
		metric.WithDescription("Actions executed, by pattern"))
	o.metrics.failures, _ = meter.Int64Counter("organism.step_failures",
		metric.WithDescription("Recovered tick step failures"))
	o.metrics.feedback, _ = meter.Int64Counter("organism.feedback_records",
		metric.WithDescription("Feedback records emitted"))
	o.metrics.tickTime, _ = meter.Float64Histogram("organism.tick.duration",
		metric.WithDescription("Wall time spent inside one tick"),
		metric.WithUnit("ms"))

	_, _ = meter.Float64ObservableGauge("organism.vitals",
		metric.WithDescription("Latest published vitals"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			v := o.Latest().Vitals
			obs.Observe(v.Energy, metric.WithAttributes(attribute.String("vital", "energy")))
			obs.Observe(v.Integrity, metric.WithAttributes(attribute.String("vital", "integrity")))
			obs.Observe(v.Stability, metric.WithAttributes(attribute.String("vital", "stability")))
			obs.Observe(v.Fatigue, metric.WithAttributes(attribute.String("vital", "fatigue")))
			obs.Observe(v.Tension, metric.WithAttributes(attribute.String("vital", "tension")))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("organism.queue.dropped_total",
		metric.WithDescription("Events dropped because the queue was full"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(o.queue.Dropped())
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("organism.feedback.pending",
		metric.WithDescription("Actions awaiting feedback"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(o.Latest().Pending))
			return nil
		}),
	)
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil || n == 0 {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}
