package signals

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// #region event-type

// EventType classifies an external stimulus.
type EventType string

const (
	EventNoise    EventType = "noise"
	EventDecay    EventType = "decay"
	EventRecovery EventType = "recovery"
	EventShock    EventType = "shock"
	EventIdle     EventType = "idle"
)

// KnownTypes lists every recognised event type.
var KnownTypes = []EventType{EventNoise, EventDecay, EventRecovery, EventShock, EventIdle}

// Known reports whether t is one of the recognised types.
func (t EventType) Known() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// #endregion event-type

// #region event

// Event is an immutable stimulus produced outside the tick loop.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Intensity float64           `json:"intensity"` // [-1, 1]
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds an event with a fresh ID. Intensity is clamped to [-1, 1]
// and metadata is copied so the caller cannot mutate it afterwards.
func NewEvent(typ EventType, intensity float64, ts time.Time, metadata map[string]string) Event {
	switch {
	case math.IsNaN(intensity):
		intensity = 0
	case intensity > 1:
		intensity = 1
	case intensity < -1:
		intensity = -1
	}
	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Intensity: intensity,
		Timestamp: ts,
		Metadata:  meta,
	}
}

// #endregion event

// #region pusher

// Pusher accepts events without blocking. The return value reports acceptance.
type Pusher interface {
	Push(Event) bool
}

// #endregion pusher

// #region config

// ProducerConfig controls the cadence and mix of generated events.
type ProducerConfig struct {
	Interval time.Duration
	// Weights gives the relative frequency of each event type. Types absent
	// from the map are never produced.
	Weights map[EventType]float64
}

// DefaultProducerConfig returns the standard ambient event mix.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Interval: 500 * time.Millisecond,
		Weights: map[EventType]float64{
			EventNoise:    0.35,
			EventDecay:    0.20,
			EventRecovery: 0.20,
			EventShock:    0.05,
			EventIdle:     0.20,
		},
	}
}

// #endregion config
