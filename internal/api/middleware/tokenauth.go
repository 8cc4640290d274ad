package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phishlab/simgen-gateway/internal/audit"
	"github.com/phishlab/simgen-gateway/internal/endpoint"
	"github.com/phishlab/simgen-gateway/internal/metrics"
	"github.com/phishlab/simgen-gateway/internal/reqctx"
	"github.com/phishlab/simgen-gateway/internal/tokenauth"
	"github.com/phishlab/simgen-gateway/internal/tokencache"
)

// Rejection messages returned in the 401 body.
const (
	MsgInvalidFormat      = "Invalid token format"
	MsgCachedInvalid      = "Token invalid (cached)"
	MsgValidationFailed   = "Token validation failed"
	MsgServiceUnavailable = "Token validation service unavailable"
)

// AdmissionSource says how a request was admitted.
type AdmissionSource string

const (
	SourceExempt AdmissionSource = "exempt"
	SourceCache  AdmissionSource = "cache"
	SourceRemote AdmissionSource = "remote"
)

// AuthResult describes an admitted request.
type AuthResult struct {
	Source AdmissionSource
	Public bool
}

type admissionKey struct{}

// GetAdmission returns the admission result for ctx. ok is false when the
// request did not pass through TokenAuthMiddleware.
func GetAdmission(ctx context.Context) (AuthResult, bool) {
	res, ok := ctx.Value(admissionKey{}).(AuthResult)
	return res, ok
}

// TokenAuthConfig wires TokenAuthMiddleware to its collaborators. Cache and
// Validator are required; Policy defaults to endpoint.DefaultPolicy.
type TokenAuthConfig struct {
	Policy    *endpoint.Policy
	Cache     *tokencache.Cache
	Validator tokenauth.Validator

	// Header carries the token. Defaults to X-Auth-Token.
	Header string
	// DefaultAPIURL is used when the request context has no resolved base URL.
	DefaultAPIURL string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Audit   audit.Recorder
	Now     func() time.Time
}

type tokenAuth struct {
	TokenAuthConfig
}

// TokenAuthMiddleware admits a request when its path is exempt or its token
// is known valid, either from the cache or from one call to the remote
// validator. Every other outcome is a 401. A validator transport failure
// fails closed and is not cached.
func TokenAuthMiddleware(cfg TokenAuthConfig) func(http.Handler) http.Handler {
	if cfg.Policy == nil {
		cfg.Policy = endpoint.DefaultPolicy()
	}
	if cfg.Header == "" {
		cfg.Header = reqctx.HeaderAuthToken
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	a := &tokenAuth{cfg}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.serve(w, r, next)
		})
	}
}

func (a *tokenAuth) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	path := r.URL.Path

	switch a.Policy.Classify(path) {
	case endpoint.ClassInternal:
		a.Metrics.ObserveAdmission(metrics.OutcomeExempt)
		a.admit(w, r, next, AuthResult{Source: SourceExempt})
		return
	case endpoint.ClassPublic:
		a.Logger.Info("public unauthenticated access",
			slog.String("path", path),
			slog.String("method", r.Method),
			slog.String("correlation_id", reqctx.CorrelationID(ctx)))
		a.record(r, "public", "")
		a.Metrics.ObserveAdmission(metrics.OutcomeExempt)
		a.admit(w, r, next, AuthResult{Source: SourceExempt, Public: true})
		return
	}

	token := tokenauth.Normalize(r.Header.Get(a.Header))
	if token == "" {
		a.Logger.Warn("missing auth token",
			slog.String("path", path),
			slog.String("method", r.Method),
			slog.String("client_ip", reqctx.ProxyClientIP(r)),
			slog.String("correlation_id", reqctx.CorrelationID(ctx)))
		a.reject(w, r, metrics.OutcomeMissingToken, a.Header+" header is required", "")
		return
	}

	cls := tokenauth.Classify(token)
	if !cls.Valid() {
		a.Logger.Warn("invalid token format",
			slog.String("path", path),
			slog.String("method", r.Method),
			slog.Int("token_length", cls.Length),
			slog.String("reason", cls.Reason),
			slog.String("correlation_id", reqctx.CorrelationID(ctx)))
		a.reject(w, r, metrics.OutcomeInvalidFormat, MsgInvalidFormat, cls.Reason)
		return
	}

	if valid, ok := a.Cache.Get(token); ok {
		if valid {
			a.Metrics.ObserveCacheLookup(metrics.CacheHitValid)
			a.Logger.Info("token validated from cache",
				slog.String("path", path),
				slog.String("correlation_id", reqctx.CorrelationID(ctx)))
			a.Metrics.ObserveAdmission(metrics.OutcomeAdmittedCache)
			a.admit(w, r, next, AuthResult{Source: SourceCache})
			return
		}
		a.Metrics.ObserveCacheLookup(metrics.CacheHitInvalid)
		a.Logger.Warn("token rejected from cache",
			slog.String("path", path),
			slog.String("correlation_id", reqctx.CorrelationID(ctx)))
		a.reject(w, r, metrics.OutcomeCachedInvalid, MsgCachedInvalid, "")
		return
	}
	a.Metrics.ObserveCacheLookup(metrics.CacheMiss)

	baseURL := reqctx.APIBaseURL(ctx)
	if baseURL == "" {
		baseURL = a.DefaultAPIURL
	}

	start := a.Now()
	status, err := a.Validator.Validate(ctx, baseURL, token)
	a.Metrics.ObserveValidation(a.Now().Sub(start))

	if err != nil {
		a.Logger.Error("token validation service unavailable",
			slog.String("path", path),
			slog.String("api_base_url", baseURL),
			slog.String("error", err.Error()),
			slog.String("correlation_id", reqctx.CorrelationID(ctx)))
		AddError(ctx, err)
		a.reject(w, r, metrics.OutcomeUnavailable, MsgServiceUnavailable, "validator unreachable")
		return
	}

	if !tokenauth.IsSuccess(status) {
		a.Cache.SetWithTTL(token, false, a.Cache.NegativeTTL())
		a.Logger.Warn("token validation failed",
			slog.String("path", path),
			slog.Int("upstream_status", status),
			slog.String("correlation_id", reqctx.CorrelationID(ctx)))
		a.reject(w, r, metrics.OutcomeRejected, MsgValidationFailed, http.StatusText(status))
		return
	}

	a.Cache.SetWithTTL(token, true, tokenauth.PositiveTTL(token, a.Cache.PositiveTTL(), a.Now()))
	a.Metrics.ObserveAdmission(metrics.OutcomeAdmittedRemote)
	a.admit(w, r, next, AuthResult{Source: SourceRemote})
}

func (a *tokenAuth) admit(w http.ResponseWriter, r *http.Request, next http.Handler, res AuthResult) {
	AddLogField(r.Context(), "admission", string(res.Source))
	ctx := context.WithValue(r.Context(), admissionKey{}, res)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (a *tokenAuth) reject(w http.ResponseWriter, r *http.Request, outcome, message, detail string) {
	a.Metrics.ObserveAdmission(outcome)
	a.record(r, outcome, detail)
	AddLogField(r.Context(), "admission", outcome)
	writeJSONError(w, http.StatusUnauthorized, message)
}

func (a *tokenAuth) record(r *http.Request, outcome, detail string) {
	a.Audit.Record(audit.Event{
		CorrelationID: reqctx.CorrelationID(r.Context()),
		Path:          r.URL.Path,
		Method:        r.Method,
		ClientIP:      reqctx.ProxyClientIP(r),
		Outcome:       outcome,
		Detail:        detail,
	})
}
