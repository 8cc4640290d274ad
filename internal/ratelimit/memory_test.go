package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	s := NewMemoryStore()
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < DefaultSweepEvery-1; i++ {
		s.Hit(context.Background(), fmt.Sprintf("old-%d", i), time.Second, start)
	}
	if got := s.Len(); got != DefaultSweepEvery-1 {
		t.Fatalf("Len() = %d, want %d", got, DefaultSweepEvery-1)
	}

	// The 100th distinct key triggers a sweep after all earlier windows lapsed.
	s.Hit(context.Background(), "fresh", time.Minute, start.Add(2*time.Second))
	if got := s.Len(); got != 1 {
		t.Errorf("Len() after sweep = %d, want 1", got)
	}
}

func TestMemoryStore_ExpiredWindowRestarts(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)

	s.Hit(context.Background(), "k", time.Second, now)
	s.Hit(context.Background(), "k", time.Second, now)

	count, resetAt, err := s.Hit(context.Background(), "k", time.Second, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if !resetAt.Equal(now.Add(2 * time.Second)) {
		t.Errorf("resetAt = %v", resetAt)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Hit(context.Background(), "shared", time.Minute, now)
			}
		}()
	}
	wg.Wait()

	count, _, _ := s.Hit(context.Background(), "shared", time.Minute, now)
	if count != 1001 {
		t.Errorf("count = %d, want 1001", count)
	}
}
