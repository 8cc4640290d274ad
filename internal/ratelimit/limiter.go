// Package ratelimit implements fixed-window request counting keyed by client
// identifier and tier.
//
// A client may send up to 2*MaxRequests around a window boundary; the limiter
// counts discrete windows, not a sliding log.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrStoreUnavailable wraps failures of a backing store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// DefaultMaxJitter bounds the random delay added to a new window's reset time
// so that many keys do not reset at the same instant.
const DefaultMaxJitter = time.Second

// Store counts hits per key within fixed windows.
type Store interface {
	// Hit records one request for key. When the key has no live window a new
	// one is started with count 1 that resets after window. It returns the
	// count within the current window and the window's reset time.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Count      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// Limiter applies tiers against a Store.
type Limiter struct {
	store  Store
	jitter func() time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithJitter overrides the reset jitter source.
func WithJitter(f func() time.Duration) Option {
	return func(l *Limiter) {
		l.jitter = f
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a limiter backed by store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		jitter: func() time.Duration {
			return rand.N(DefaultMaxJitter)
		},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the store key for identifier under tier.
func Key(tier Tier, identifier string) string {
	return "rl:" + tier.Name + ":" + identifier
}

// Check consumes one request for identifier and reports whether it is
// admitted. Check never fails: if the store errors the request is admitted
// and the failure logged.
func (l *Limiter) Check(ctx context.Context, identifier string, tier Tier) Decision {
	now := l.now()

	count, resetAt, err := l.store.Hit(ctx, Key(tier, identifier), tier.Window+l.jitter(), now)
	if err != nil {
		l.logger.Error("rate limit store failed, admitting request",
			slog.String("tier", tier.Name),
			slog.String("identifier", identifier),
			slog.String("error", err.Error()))
		return Decision{
			Allowed:   true,
			Limit:     tier.MaxRequests,
			Remaining: tier.MaxRequests,
			ResetAt:   now.Add(tier.Window),
		}
	}

	d := Decision{
		Limit:   tier.MaxRequests,
		Count:   count,
		ResetAt: resetAt,
	}
	if count > tier.MaxRequests {
		d.RetryAfter = resetAt.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
		return d
	}

	d.Allowed = true
	d.Remaining = tier.MaxRequests - count
	return d
}
