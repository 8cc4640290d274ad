package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/phishlab/simgen-gateway/internal/metrics"
	"github.com/phishlab/simgen-gateway/internal/ratelimit"
	"github.com/phishlab/simgen-gateway/internal/reqctx"
)

// lowRemainingThreshold triggers an early-warning log on admitted requests.
const lowRemainingThreshold = 10

type rateLimitContextKey struct{}

// SetRateLimits stores a rate limit decision in ctx.
func SetRateLimits(ctx context.Context, d *ratelimit.Decision) context.Context {
	return context.WithValue(ctx, rateLimitContextKey{}, d)
}

// GetRateLimits returns the decision made for this request, or nil.
func GetRateLimits(ctx context.Context) *ratelimit.Decision {
	if d, ok := ctx.Value(rateLimitContextKey{}).(*ratelimit.Decision); ok {
		return d
	}
	return nil
}

// RateLimitOptions tunes RateLimitMiddleware.
type RateLimitOptions struct {
	// Tier picks the tier name for a request. An empty result, or a nil
	// Tier, uses the tierName passed to RateLimitMiddleware.
	Tier func(*http.Request) string
	// Identify derives the client identifier. Defaults to reqctx.ClientIP.
	Identify func(*http.Request) string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// RateLimitMiddleware applies a tier from tiers to every request. The tier is
// looked up per request so reloaded limits apply immediately.
func RateLimitMiddleware(limiter *ratelimit.Limiter, tiers *ratelimit.TierSet, tierName string, opts RateLimitOptions) func(http.Handler) http.Handler {
	if opts.Identify == nil {
		opts.Identify = reqctx.ClientIP
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := tierName
			if opts.Tier != nil {
				if picked := opts.Tier(r); picked != "" {
					name = picked
				}
			}

			tier := tiers.Get(name)
			id := opts.Identify(r)
			d := limiter.Check(r.Context(), id, tier)
			opts.Metrics.ObserveRateLimit(tier.Name, d.Allowed)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := d.RetryAfterSeconds()
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				opts.Logger.Warn("rate limit exceeded",
					slog.String("identifier", id),
					slog.String("tier", tier.Name),
					slog.Int("count", d.Count),
					slog.Int("limit", d.Limit),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", reqctx.CorrelationID(r.Context())))
				AddLogField(r.Context(), "rate_limited", tier.Name)
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error:      http.StatusText(http.StatusTooManyRequests),
					Message:    fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
					RetryAfter: retryAfter,
					Limit:      d.Limit,
					Current:    d.Count,
				})
				return
			}

			if d.Remaining < lowRemainingThreshold {
				opts.Logger.Warn("rate limit nearly exhausted",
					slog.String("identifier", id),
					slog.String("tier", tier.Name),
					slog.Int("remaining", d.Remaining),
					slog.String("path", r.URL.Path))
			}

			next.ServeHTTP(w, r.WithContext(SetRateLimits(r.Context(), &d)))
		})
	}
}
