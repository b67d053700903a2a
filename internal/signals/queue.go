package signals

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueCapacity is the number of events buffered between ticks.
const DefaultQueueCapacity = 100

// #region queue

// Queue is a bounded FIFO shared by any number of producers and a single
// consumer. When full, new events are dropped rather than blocking the caller.
type Queue struct {
	mu       sync.Mutex
	events   []Event
	capacity int

	accepted atomic.Int64
	dropped  atomic.Int64
}

// NewQueue creates a queue. A non-positive capacity uses DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Push enqueues e, or drops it when the queue is at capacity.
func (q *Queue) Push(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) >= q.capacity {
		q.dropped.Add(1)
		return false
	}
	q.events = append(q.events, e)
	q.accepted.Add(1)
	return true
}

// PopAll drains every queued event in arrival order.
func (q *Queue) PopAll() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	batch := q.events
	q.events = make([]Event, 0, q.capacity)
	return batch
}

// PeekTypes returns the types of the currently queued events without draining.
func (q *Queue) PeekTypes() []EventType {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	types := make([]EventType, len(q.events))
	for i, e := range q.events {
		types[i] = e.Type
	}
	return types
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Accepted returns the total number of events ever accepted.
func (q *Queue) Accepted() int64 {
	return q.accepted.Load()
}

// Dropped returns the total number of events rejected for capacity.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// #endregion queue
