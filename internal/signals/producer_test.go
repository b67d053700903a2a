package signals

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestProducer_DeterministicForSeed(t *testing.T) {
	a := NewProducer(NewQueue(0), DefaultProducerConfig(), seeded(7), nil)
	b := NewProducer(NewQueue(0), DefaultProducerConfig(), seeded(7), nil)

	for i := 0; i < 50; i++ {
		ea, eb := a.Next(), b.Next()
		require.Equal(t, ea.Type, eb.Type, "event %d", i)
		require.Equal(t, ea.Intensity, eb.Intensity, "event %d", i)
	}
}

func TestProducer_IntensitySigns(t *testing.T) {
	p := NewProducer(NewQueue(0), DefaultProducerConfig(), seeded(1), nil)
	for i := 0; i < 500; i++ {
		e := p.Next()
		assert.GreaterOrEqual(t, e.Intensity, -1.0)
		assert.LessOrEqual(t, e.Intensity, 1.0)
		switch e.Type {
		case EventDecay:
			assert.LessOrEqual(t, e.Intensity, 0.0)
		case EventRecovery:
			assert.GreaterOrEqual(t, e.Intensity, 0.0)
		case EventShock:
			assert.LessOrEqual(t, e.Intensity, -0.3)
		case EventIdle:
			assert.Equal(t, 0.0, e.Intensity)
		}
	}
}

func TestProducer_SingleWeight(t *testing.T) {
	cfg := ProducerConfig{Interval: time.Millisecond, Weights: map[EventType]float64{EventShock: 1}}
	p := NewProducer(NewQueue(0), cfg, seeded(3), nil)
	for i := 0; i < 20; i++ {
		assert.Equal(t, EventShock, p.Next().Type)
	}
}

func TestProducer_RunPushesUntilCancelled(t *testing.T) {
	q := NewQueue(1000)
	cfg := DefaultProducerConfig()
	cfg.Interval = time.Millisecond
	p := NewProducer(q, cfg, seeded(9), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Len() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop")
	}
}

func TestProducer_RunSurvivesFullQueue(t *testing.T) {
	q := NewQueue(1)
	cfg := DefaultProducerConfig()
	cfg.Interval = time.Millisecond
	p := NewProducer(q, cfg, seeded(11), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, 1, q.Len())
	assert.Positive(t, q.Dropped())
}
