package logging

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/organism/internal/state"
	"github.com/danielpatrickdp/organism/internal/telemetry"
)

// #region log-tick
// LogTick writes a single tick_log row.
func LogTick(ctx context.Context, db execer, row state.TickRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO tick_log (life_id, tick, age, energy, integrity, stability, fatigue, tension,
		 active, mode, events_json, inputs_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.LifeID,
		int64(row.Tick),
		row.Age,
		row.Vitals.Energy,
		row.Vitals.Integrity,
		row.Vitals.Stability,
		row.Vitals.Fatigue,
		row.Vitals.Tension,
		boolInt(row.Vitals.Active),
		row.Mode,
		nullIfEmpty(row.EventsJSON),
		nullIfEmpty(row.InputsJSON),
		row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log tick: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
// #endregion log-tick

// #region tick-writer
// DefaultTickBufferCapacity bounds rows held in memory between flushes.
const DefaultTickBufferCapacity = 10_000

// TickWriter accumulates tick rows in memory and flushes them in one
// transaction when the batch fills or the interval elapses. Append never
// blocks the tick loop; rows beyond capacity are dropped and counted.
type TickWriter struct {
	db            *sql.DB
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	capacity      int

	mu   sync.Mutex
	rows []state.TickRow

	written atomic.Int64
	dropped atomic.Int64

	closed  bool
	started bool

	flushCh chan struct{}
	drainCh chan context.Context
	done    chan struct{}
}

// NewTickWriter creates a writer. Call Start, then Drain on shutdown.
func NewTickWriter(db *sql.DB, logger *zap.Logger, batchSize int, flushInterval time.Duration) *TickWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &TickWriter{
		db:            db,
		logger:        logger.Named("ticklog"),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		capacity:      DefaultTickBufferCapacity,
		flushCh:       make(chan struct{}, 1),
		drainCh:       make(chan context.Context, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics. The
// loop keeps ctx's values but not its cancellation: only Drain stops it, so
// rows appended while the process winds down are still written.
func (w *TickWriter) Start(ctx context.Context) {
	w.registerMetrics()
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.flushLoop(context.WithoutCancel(ctx))
}

// Append queues a row. Returns false if the row was dropped, either because
// the buffer is full or because Drain has already run.
func (w *TickWriter) Append(row state.TickRow) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || len(w.rows) >= w.capacity {
		w.dropped.Add(1)
		return false
	}
	w.rows = append(w.rows, row)
	if len(w.rows) >= w.batchSize {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

func (w *TickWriter) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case drainCtx := <-w.drainCh:
			w.flush(drainCtx)
			close(w.done)
			return
		case <-ticker.C:
			w.flush(ctx)
		case <-w.flushCh:
			w.flush(ctx)
		}
	}
}

func (w *TickWriter) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.rows) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.rows
	w.rows = nil
	w.mu.Unlock()

	start := time.Now()
	if err := w.insert(ctx, batch); err != nil {
		w.logger.Error("flush failed", zap.Error(err), zap.Int("batch_size", len(batch)))
		w.mu.Lock()
		if len(w.rows)+len(batch) <= w.capacity {
			w.rows = append(batch, w.rows...)
		} else {
			w.dropped.Add(int64(len(batch)))
			w.logger.Warn("dropping tick rows, buffer at capacity after flush failure", zap.Int("dropped", len(batch)))
		}
		w.mu.Unlock()
		return
	}
	w.written.Add(int64(len(batch)))
	w.logger.Debug("batch flushed",
		zap.Int("batch_size", len(batch)),
		zap.Int64("flush_duration_ms", time.Since(start).Milliseconds()),
	)
}

func (w *TickWriter) insert(ctx context.Context, batch []state.TickRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, row := range batch {
		if err := LogTick(ctx, tx, row); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Drain stops the flush loop after a final flush bounded by ctx. Appends
// racing with Drain are either written or rejected, never silently lost.
func (w *TickWriter) Drain(ctx context.Context) {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}

	select {
	case w.drainCh <- ctx:
	default:
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("drain timed out waiting for flush loop")
	}

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	// rows appended between the loop's last flush and closing
	w.flush(ctx)
	if n := w.Len(); n > 0 {
		w.logger.Warn("tick rows left unwritten after drain", zap.Int("rows", n))
	}
}

// Len returns the number of rows waiting to be flushed.
func (w *TickWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

// Written returns the number of rows committed so far.
func (w *TickWriter) Written() int64 { return w.written.Load() }

// Dropped returns the number of rows lost to capacity exhaustion.
func (w *TickWriter) Dropped() int64 { return w.dropped.Load() }

func (w *TickWriter) registerMetrics() {
	meter := telemetry.Meter("organism/ticklog")

	_, _ = meter.Int64ObservableGauge("organism.ticklog.depth",
		metric.WithDescription("Tick rows waiting to be flushed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(w.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("organism.ticklog.dropped_total",
		metric.WithDescription("Tick rows dropped due to buffer capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(w.Dropped())
			return nil
		}),
	)
}
// #endregion tick-writer

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
// #endregion helpers
