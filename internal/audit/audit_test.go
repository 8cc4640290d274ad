package audit

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T, opts ...Option) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLite(filepath.Join(t.TempDir(), "audit.db"), opts...)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	return r
}

func TestSQLiteRecorder_Recent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	r, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.Record(Event{OccurredAt: base, CorrelationID: "c-1", Path: "/chat", Method: "POST", ClientIP: "1.2.3.4", Outcome: "missing_token"})
	r.Record(Event{OccurredAt: base.Add(time.Second), CorrelationID: "c-2", Path: "/simulation/click", Method: "GET", Outcome: "public"})
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	events, err := reopened.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].CorrelationID != "c-2" || events[0].Outcome != "public" {
		t.Errorf("newest event = %+v", events[0])
	}
	if events[1].ClientIP != "1.2.3.4" || events[1].Path != "/chat" {
		t.Errorf("oldest event = %+v", events[1])
	}
	if events[0].ID == "" {
		t.Error("expected generated event id")
	}
}

func TestSQLiteRecorder_RecordAfterClose(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	r.Record(Event{Path: "/chat", Method: "POST", Outcome: "rejected"})
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSQLiteRecorder_DropsWhenFull(t *testing.T) {
	var dropped atomic.Int32
	// No writer goroutine, so the single buffer slot stays occupied.
	r := &SQLiteRecorder{
		events: make(chan Event, 1),
		onDrop: func() { dropped.Add(1) },
	}

	r.Record(Event{Path: "/chat", Method: "POST", Outcome: "rejected"})
	r.Record(Event{Path: "/chat", Method: "POST", Outcome: "rejected"})
	r.Record(Event{Path: "/chat", Method: "POST", Outcome: "rejected"})

	if got := dropped.Load(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
	queued := <-r.events
	if queued.ID == "" || queued.OccurredAt.IsZero() {
		t.Errorf("queued event not stamped: %+v", queued)
	}
}

func TestNop(t *testing.T) {
	var rec Recorder = Nop{}
	rec.Record(Event{Outcome: "anything"})
}
