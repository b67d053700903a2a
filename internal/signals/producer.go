package signals

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
)

// #region producer

// Producer emits ambient events into a Pusher at its own cadence,
// independent of tick timing.
type Producer struct {
	sink   Pusher
	config ProducerConfig
	rng    *rand.Rand
	now    func() time.Time
	logger *zap.Logger

	types      []EventType
	cumulative []float64
}

// NewProducer creates a Producer. rng must not be shared with another goroutine.
func NewProducer(sink Pusher, config ProducerConfig, rng *rand.Rand, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultProducerConfig().Interval
	}
	if len(config.Weights) == 0 {
		config.Weights = DefaultProducerConfig().Weights
	}
	p := &Producer{
		sink:   sink,
		config: config,
		rng:    rng,
		now:    time.Now,
		logger: logger.Named("producer"),
	}
	p.buildTable()
	return p
}

// buildTable lays the weights out as a cumulative distribution in a
// deterministic type order so a fixed seed yields a fixed sequence.
func (p *Producer) buildTable() {
	for t, w := range p.config.Weights {
		if w > 0 {
			p.types = append(p.types, t)
		}
	}
	sort.Slice(p.types, func(i, j int) bool { return p.types[i] < p.types[j] })

	var total float64
	for _, t := range p.types {
		total += p.config.Weights[t]
		p.cumulative = append(p.cumulative, total)
	}
	for i := range p.cumulative {
		p.cumulative[i] /= total
	}
}

// #endregion producer

// #region next

// Next generates a single event.
func (p *Producer) Next() Event {
	typ := p.pickType()
	meta := map[string]string{"source": "producer"}
	return NewEvent(typ, p.intensity(typ), p.now().UTC(), meta)
}

func (p *Producer) pickType() EventType {
	if len(p.types) == 0 {
		return EventIdle
	}
	r := p.rng.Float64()
	for i, c := range p.cumulative {
		if r < c {
			return p.types[i]
		}
	}
	return p.types[len(p.types)-1]
}

// intensity draws a magnitude whose sign follows the nature of the event:
// decay and shock hurt, recovery helps, noise goes either way, idle is flat.
func (p *Producer) intensity(t EventType) float64 {
	switch t {
	case EventNoise:
		return p.rng.Float64()*2 - 1
	case EventDecay:
		return -p.rng.Float64()
	case EventRecovery:
		return p.rng.Float64()
	case EventShock:
		return -(0.3 + 0.7*p.rng.Float64())
	default:
		return 0
	}
}

// #endregion next

// #region run

// Run pushes one event per interval until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("producer started", zap.Duration("interval", p.config.Interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("producer stopped")
			return nil
		case <-ticker.C:
			e := p.Next()
			if !p.sink.Push(e) {
				p.logger.Debug("event dropped", zap.String("type", string(e.Type)))
			}
		}
	}
}

// #endregion run
