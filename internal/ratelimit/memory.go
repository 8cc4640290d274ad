package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepEvery triggers a sweep of expired windows whenever the number of
// tracked keys reaches a multiple of this value.
const DefaultSweepEvery = 100

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a process-local Store. It is safe for concurrent use.
// Expired windows are removed opportunistically, so cleanup frequency follows
// traffic rather than a timer.
type MemoryStore struct {
	mu         sync.Mutex
	windows    map[string]*window
	sweepEvery int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:    make(map[string]*window),
		sweepEvery: DefaultSweepEvery,
	}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, d time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if ok && now.Before(w.resetAt) {
		w.count++
		return w.count, w.resetAt, nil
	}

	w = &window{count: 1, resetAt: now.Add(d)}
	s.windows[key] = w
	if len(s.windows)%s.sweepEvery == 0 {
		s.sweepLocked(now)
	}
	return w.count, w.resetAt, nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
