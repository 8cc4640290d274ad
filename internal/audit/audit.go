// Package audit records admission decisions worth keeping after the request
// log has rotated: rejections and unauthenticated public access. Token values
// are never recorded.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultBufferSize is the number of events queued before new ones are dropped.
const DefaultBufferSize = 1024

// Event is one audited admission decision.
type Event struct {
	ID            string
	OccurredAt    time.Time
	CorrelationID string
	Path          string
	Method        string
	ClientIP      string
	Outcome       string
	Detail        string
}

// Recorder accepts audit events. Record must not block the request path.
type Recorder interface {
	Record(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(Event) {}

// SQLiteRecorder persists events to a SQLite database from a single writer
// goroutine.
type SQLiteRecorder struct {
	db     *sql.DB
	logger *slog.Logger
	onDrop func()

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
}

// Option configures a SQLiteRecorder.
type Option func(*SQLiteRecorder)

// WithLogger sets the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *SQLiteRecorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDropHook registers f to be called for each event dropped on a full buffer.
func WithDropHook(f func()) Option {
	return func(r *SQLiteRecorder) {
		r.onDrop = f
	}
}

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(r *SQLiteRecorder) {
		if n > 0 {
			r.events = make(chan Event, n)
		}
	}
}

// NewSQLite opens (or creates) the database at dbPath and starts the writer.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS admission_events (
		id TEXT PRIMARY KEY,
		occurred_at TIMESTAMP NOT NULL,
		correlation_id TEXT,
		path TEXT NOT NULL,
		method TEXT NOT NULL,
		client_ip TEXT,
		outcome TEXT NOT NULL,
		detail TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_admission_events_occurred ON admission_events(occurred_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	r := &SQLiteRecorder{
		db:     db,
		logger: slog.Default(),
		events: make(chan Event, DefaultBufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.run()
	return r, nil
}

// Record queues e for writing. Events are dropped when the buffer is full or
// the recorder is closed.
func (r *SQLiteRecorder) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.events <- e:
	default:
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}

func (r *SQLiteRecorder) run() {
	defer close(r.done)
	for e := range r.events {
		if err := r.insert(e); err != nil {
			r.logger.Error("failed to write audit event",
				slog.String("outcome", e.Outcome),
				slog.String("error", err.Error()))
		}
	}
}

func (r *SQLiteRecorder) insert(e Event) error {
	_, err := r.db.Exec(`INSERT INTO admission_events
		(id, occurred_at, correlation_id, path, method, client_ip, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OccurredAt, e.CorrelationID, e.Path, e.Method, e.ClientIP, e.Outcome, e.Detail)
	return err
}

// Recent returns up to limit events, newest first.
func (r *SQLiteRecorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, occurred_at, correlation_id, path, method, client_ip, outcome, detail
		FROM admission_events ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.CorrelationID, &e.Path, &e.Method, &e.ClientIP, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close flushes queued events and closes the database.
func (r *SQLiteRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	<-r.done
	return r.db.Close()
}
