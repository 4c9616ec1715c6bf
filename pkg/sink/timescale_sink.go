package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// dropLogInterval controls how often rejected records are logged at warn
const dropLogInterval = 1000

var timescaleColumns = []string{"time", "id", "window_id", "source", "key", "value", "headers"}

// rowWriter persists one batch atomically
type rowWriter interface {
	WriteRows(ctx context.Context, rows []*stream.Record) error
	Close() error
}

// ErrSinkFull is returned by Write while the pending rows are at the limit
var ErrSinkFull = errors.New("sink pending rows at limit")

// TimescaleSink batches records and writes them to a TimescaleDB hypertable.
// A batch is written when it reaches BatchSize and whenever a window ends, so
// a window's records are durable once EndWindow returns.
//
// After a failed write the rows are kept and Write stops flushing; the next
// attempt happens at the end of the window. Pending rows are capped at
// MaxPending, and records beyond that are rejected and counted.
type TimescaleSink struct {
	writer     rowWriter
	table      string
	batchSize  int
	maxPending int
	logger     *zap.Logger

	mu      sync.Mutex
	batch   []*stream.Record
	failing bool
	dropped uint64
}

// NewTimescaleSink connects to Postgres and makes sure the hypertable exists
func NewTimescaleSink(cfg config.TimescaleSinkConfig, logger *zap.Logger) (*TimescaleSink, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("no TimescaleDB table specified")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TimescaleDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping TimescaleDB: %w", err)
	}

	w := &pqWriter{db: db, table: cfg.Table}
	if err := w.createTable(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("TimescaleDB table ready", zap.String("table", cfg.Table))

	return newTimescaleSink(w, cfg, logger), nil
}

func newTimescaleSink(w rowWriter, cfg config.TimescaleSinkConfig, logger *zap.Logger) *TimescaleSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = 10 * cfg.BatchSize
	}
	return &TimescaleSink{
		writer:     w,
		table:      cfg.Table,
		batchSize:  cfg.BatchSize,
		maxPending: cfg.MaxPending,
		logger:     logger.With(zap.String("sink", cfg.Name)),
		batch:      make([]*stream.Record, 0, cfg.BatchSize),
	}
}

// Write adds a record to the batch
func (t *TimescaleSink) Write(ctx context.Context, record *stream.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.batch) >= t.maxPending {
		t.dropped++
		if t.dropped == 1 || t.dropped%dropLogInterval == 0 {
			t.logger.Warn("TimescaleDB sink full, rejecting records",
				zap.Int("pending", len(t.batch)),
				zap.Uint64("dropped_total", t.dropped))
		}
		return fmt.Errorf("%w (%d rows for %s)", ErrSinkFull, len(t.batch), t.table)
	}

	t.batch = append(t.batch, record)
	if len(t.batch) >= t.batchSize && !t.failing {
		return t.flushLocked(ctx)
	}
	return nil
}

// Flush writes the pending batch
func (t *TimescaleSink) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked(ctx)
}

// flushLocked keeps the batch when the write fails so the next flush retries it
func (t *TimescaleSink) flushLocked(ctx context.Context) error {
	if len(t.batch) == 0 {
		return nil
	}

	if err := t.writer.WriteRows(ctx, t.batch); err != nil {
		t.failing = true
		return fmt.Errorf("failed to write %d rows to %s: %w", len(t.batch), t.table, err)
	}
	t.failing = false

	t.logger.Debug("Batch flushed to TimescaleDB", zap.Int("count", len(t.batch)))
	clear(t.batch)
	t.batch = t.batch[:0]
	return nil
}

// Dropped returns the number of records rejected because the sink was full
func (t *TimescaleSink) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Pending returns the number of buffered rows
func (t *TimescaleSink) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batch)
}

func (t *TimescaleSink) BeginWindow(context.Context, stream.Window) error { return nil }

func (t *TimescaleSink) EndWindow(ctx context.Context, _ stream.Window) error {
	return t.Flush(ctx)
}

// Close flushes what is left and closes the connection pool
func (t *TimescaleSink) Close() error {
	t.logger.Info("Closing TimescaleDB sink")
	if err := t.Flush(context.Background()); err != nil {
		t.logger.Warn("Dropping unflushed rows", zap.Error(err), zap.Int("count", t.Pending()))
	}
	return t.writer.Close()
}

// pqWriter loads batches with COPY inside a transaction
type pqWriter struct {
	db    *sql.DB
	table string
}

func (w *pqWriter) createTable(ctx context.Context) error {
	table := pq.QuoteIdentifier(w.table)
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			time      TIMESTAMPTZ NOT NULL,
			id        TEXT NOT NULL,
			window_id BIGINT NOT NULL,
			source    TEXT,
			key       TEXT,
			value     JSONB,
			headers   JSONB
		);
		SELECT create_hypertable(%s, 'time', if_not_exists => TRUE);
	`, table, pq.QuoteLiteral(w.table))

	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (w *pqWriter) WriteRows(ctx context.Context, rows []*stream.Record) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(w.table, timescaleColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, r := range rows {
		value, err := jsonValue(r.Value)
		if err != nil {
			stmt.Close()
			return err
		}
		headers, err := json.Marshal(r.Headers)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("failed to marshal headers: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ReceivedAt, r.ID, int64(r.Window), r.Source, r.Key, string(value), string(headers)); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

func (w *pqWriter) Close() error {
	return w.db.Close()
}

// jsonValue stores raw payloads as a JSON string when they are not JSON
func jsonValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		if json.Valid(val) {
			return val, nil
		}
		return json.Marshal(string(val))
	case string:
		if json.Valid([]byte(val)) {
			return []byte(val), nil
		}
		return json.Marshal(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record value: %w", err)
		}
		return data, nil
	}
}
