package logging

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/danielpatrickdp/organism/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region helpers
func setupStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.NewStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func makeRow(tick uint64) state.TickRow {
	v := state.DefaultVitals()
	v.Energy = 100 - float64(tick)
	return state.TickRow{
		LifeID:     "life-1",
		Tick:       tick,
		Age:        float64(tick),
		Vitals:     v,
		Mode:       "active",
		EventsJSON: `["noise"]`,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, int(tick), 0, time.UTC),
	}
}

// #endregion helpers

// #region log-tick-tests
func TestLogTick_Success(t *testing.T) {
	store := setupStore(t)

	if err := LogTick(context.Background(), store.DB(), makeRow(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := store.ListTicks("life-1", 10)
	if err != nil {
		t.Fatalf("list ticks: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	got := rows[0]
	if got.Tick != 1 || got.Vitals.Energy != 99 || got.Mode != "active" || got.EventsJSON != `["noise"]` {
		t.Errorf("unexpected row: %+v", got)
	}
	if !got.Vitals.Active {
		t.Error("active flag lost")
	}
}

func TestLogTick_DefaultsCreatedAtAndNullEvents(t *testing.T) {
	store := setupStore(t)
	row := makeRow(2)
	row.CreatedAt = time.Time{}
	row.EventsJSON = ""

	if err := LogTick(context.Background(), store.DB(), row); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var eventsNull bool
	var created string
	store.DB().QueryRow("SELECT events_json IS NULL, created_at FROM tick_log").Scan(&eventsNull, &created)
	if !eventsNull {
		t.Error("expected NULL events_json for empty string")
	}
	if created == "" {
		t.Error("expected created_at to be auto-populated")
	}
}

func TestLogTick_ClosedDB(t *testing.T) {
	store := setupStore(t)
	store.Close()

	if err := LogTick(context.Background(), store.DB(), makeRow(1)); err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-tick-tests

// #region tick-writer-tests
func TestTickWriter_FlushesOnDrain(t *testing.T) {
	store := setupStore(t)
	w := NewTickWriter(store.DB(), nil, 1000, time.Hour)
	w.Start(context.Background())

	for i := uint64(1); i <= 5; i++ {
		if !w.Append(makeRow(i)) {
			t.Fatalf("append %d dropped", i)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(ctx)

	rows, err := store.ListTicks("life-1", 10)
	if err != nil {
		t.Fatalf("list ticks: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows after drain, got %d", len(rows))
	}
	for i, r := range rows {
		if r.Tick != uint64(i+1) {
			t.Errorf("row %d has tick %d, want chronological order", i, r.Tick)
		}
	}
	if w.Written() != 5 || w.Len() != 0 {
		t.Errorf("written=%d len=%d", w.Written(), w.Len())
	}
}

func TestTickWriter_FlushesWhenBatchFills(t *testing.T) {
	store := setupStore(t)
	w := NewTickWriter(store.DB(), nil, 3, time.Hour)
	w.Start(context.Background())
	defer w.Drain(context.Background())

	for i := uint64(1); i <= 3; i++ {
		w.Append(makeRow(i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.Written() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("batch not flushed, written=%d", w.Written())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTickWriter_DropsBeyondCapacity(t *testing.T) {
	w := NewTickWriter(nil, nil, 1000, time.Hour)
	w.capacity = 2

	if !w.Append(makeRow(1)) || !w.Append(makeRow(2)) {
		t.Fatal("expected first two appends to succeed")
	}
	if w.Append(makeRow(3)) {
		t.Fatal("expected third append to be dropped")
	}
	if w.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", w.Dropped())
	}
	// never started: Drain is a no-op
	w.Drain(context.Background())
}

func TestTickWriter_KeepsRowsWhenFlushFails(t *testing.T) {
	store := setupStore(t)
	w := NewTickWriter(store.DB(), nil, 1000, time.Hour)
	w.Append(makeRow(1))
	store.Close()

	w.flush(context.Background())

	if w.Len() != 1 {
		t.Errorf("expected row requeued after failed flush, got %d", w.Len())
	}
	if w.Written() != 0 {
		t.Errorf("expected nothing written, got %d", w.Written())
	}
}

func TestTickWriter_ParentCancelDoesNotStopWriter(t *testing.T) {
	store := setupStore(t)
	w := NewTickWriter(store.DB(), nil, 1000, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	if !w.Append(makeRow(1)) {
		t.Fatal("append 1 dropped")
	}
	cancel()
	// a tick finishing after shutdown began
	if !w.Append(makeRow(2)) {
		t.Fatal("append 2 dropped")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	w.Drain(drainCtx)

	rows, err := store.ListTicks("life-1", 10)
	if err != nil {
		t.Fatalf("list ticks: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both accepted rows persisted, got %d", len(rows))
	}
	if w.Written() != 2 || w.Len() != 0 {
		t.Errorf("written=%d pending=%d", w.Written(), w.Len())
	}
}

func TestTickWriter_RejectsAppendAfterDrain(t *testing.T) {
	store := setupStore(t)
	w := NewTickWriter(store.DB(), nil, 1000, time.Hour)
	w.Start(context.Background())
	w.Drain(context.Background())

	if w.Append(makeRow(1)) {
		t.Fatal("expected append after drain to be rejected")
	}
	if w.Dropped() != 1 {
		t.Errorf("expected rejected row counted as dropped, got %d", w.Dropped())
	}
	// a second drain is harmless
	w.Drain(context.Background())
}

// #endregion tick-writer-tests
