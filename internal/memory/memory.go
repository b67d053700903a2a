package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/danielpatrickdp/organism/internal/feedback"
	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/signals"
)

// #region constants

const (
	// DefaultCapacity is the hard cap on retained entries.
	DefaultCapacity = 50
	// DefaultActivationLimit is how many entries Activate returns at most.
	DefaultActivationLimit = 3
)

// Synthetic entry types for traces that are not external events.
const (
	TypeAction   signals.EventType = "action"
	TypeFeedback signals.EventType = "feedback"
)

// #endregion constants

// #region entry

// Entry is one retained trace. Event entries carry a positive significance;
// action and feedback entries always carry zero.
type Entry struct {
	EventType    signals.EventType `json:"event_type"`
	Significance float64           `json:"significance"`
	Timestamp    time.Time         `json:"timestamp"`
	Pattern      meaning.Pattern   `json:"pattern,omitempty"`
	ActionID     string            `json:"action_id,omitempty"`
	Feedback     *feedback.Record  `json:"feedback_data,omitempty"`
}

// #endregion entry

// #region store

// Store is a bounded sequence of entries with FIFO eviction by insertion
// order. Access does not refresh an entry. Owned by the tick loop.
type Store struct {
	capacity int
	entries  []Entry
	evicted  uint64
}

// NewStore creates a store. A non-positive capacity selects DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, entries: make([]Entry, 0, capacity)}
}

// Append adds e and evicts the oldest entries while over capacity.
func (s *Store) Append(e Entry) {
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.capacity; over > 0 {
		copy(s.entries, s.entries[over:])
		for i := len(s.entries) - over; i < len(s.entries); i++ {
			s.entries[i] = Entry{}
		}
		s.entries = s.entries[:len(s.entries)-over]
		s.evicted += uint64(over)
	}
}

// Entries returns a copy, oldest first.
func (s *Store) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of retained entries.
func (s *Store) Len() int { return len(s.entries) }

// Capacity returns the hard cap.
func (s *Store) Capacity() int { return s.capacity }

// Evicted returns how many entries have been pushed out.
func (s *Store) Evicted() uint64 { return s.evicted }

// Activate recalls entries matching t. See the package-level Activate.
func (s *Store) Activate(t signals.EventType, limit int) []Entry {
	return Activate(t, s.entries, limit)
}

// #endregion store

// #region activate

// Activate filters entries by type, ranks by significance descending with
// ties kept in insertion order, and returns at most limit of them. The result
// is a fresh slice; an empty result is normal.
func Activate(t signals.EventType, entries []Entry, limit int) []Entry {
	if limit <= 0 {
		return nil
	}
	var matched []Entry
	for _, e := range entries {
		if e.EventType == t {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Significance > matched[j].Significance
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// MaxSignificance returns the largest significance in entries, or 0.
func MaxSignificance(entries []Entry) float64 {
	var m float64
	for _, e := range entries {
		if e.Significance > m {
			m = e.Significance
		}
	}
	return m
}

// #endregion activate

// #region persistence

// MarshalJSON encodes the retained entries, oldest first.
func (s *Store) MarshalJSON() ([]byte, error) {
	if s.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.entries)
}

// Restore replaces the contents with a previously encoded entry list,
// keeping only the newest entries when the list exceeds capacity.
func (s *Store) Restore(data []byte) error {
	var entries []Entry
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("decode memory: %w", err)
		}
	}
	if over := len(entries) - s.capacity; over > 0 {
		entries = entries[over:]
	}
	s.entries = make([]Entry, 0, s.capacity)
	s.entries = append(s.entries, entries...)
	return nil
}

// #endregion persistence
