// Package runtime provides the Gateway struct and lifecycle management for
// the simulation content gateway.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apimw "github.com/phishlab/simgen-gateway/internal/api/middleware"
	"github.com/phishlab/simgen-gateway/internal/audit"
	"github.com/phishlab/simgen-gateway/internal/endpoint"
	"github.com/phishlab/simgen-gateway/internal/metrics"
	"github.com/phishlab/simgen-gateway/internal/pkg/config"
	"github.com/phishlab/simgen-gateway/internal/ratelimit"
	"github.com/phishlab/simgen-gateway/internal/reqctx"
	"github.com/phishlab/simgen-gateway/internal/telemetry"
	"github.com/phishlab/simgen-gateway/internal/tokenauth"
	"github.com/phishlab/simgen-gateway/internal/tokencache"
	"github.com/phishlab/simgen-gateway/internal/upstream"
)

// maxTelemetryBody bounds client telemetry payloads.
const maxTelemetryBody = 64 << 10

const pathChat = "/chat"

// Gateway owns the admission components and the HTTP server.
type Gateway struct {
	// Dependencies (injected via options)
	config    ConfigProvider
	logger    *slog.Logger
	metrics   *metrics.Metrics
	validator tokenauth.Validator
	rateStore ratelimit.Store
	audit     audit.Recorder
	generator http.Handler

	// Built from config. cfg is read by handlers, which never take mu.
	cfg      atomic.Pointer[config.Config]
	policy   *endpoint.Policy
	cache    *tokencache.Cache
	tiers    *ratelimit.TierSet
	limiter  *ratelimit.Limiter
	resolver *reqctx.Resolver
	handler  http.Handler
	closers  []io.Closer
	server   *http.Server
	tracer   telemetry.ShutdownFunc

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Gateway with the given options.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
		policy: endpoint.DefaultPolicy(),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfig)")
	}
	if gw.metrics == nil {
		gw.metrics = metrics.New(nil)
	}

	return gw, nil
}

// Init loads the configuration and builds the handler chain without
// listening. Start calls it.
func (g *Gateway) Init(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil {
		g.ctx, g.cancel = context.WithCancel(ctx)
	}

	cfg, err := g.config.Load(g.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := g.build(g.ctx, cfg); err != nil {
		return err
	}
	g.cfg.Store(cfg)
	g.handler = g.routes(cfg)
	return nil
}

// Start initializes the gateway, starts the HTTP server and watches the
// configuration for changes.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.Init(ctx); err != nil {
		return err
	}

	cfg := g.cfg.Load()
	g.mu.Lock()
	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
	}
	server := g.server
	g.mu.Unlock()

	go func() {
		g.logger.Info("HTTP server listening", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	go g.watchConfig()

	g.logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("environment", cfg.Server.Environment),
		slog.String("ratelimit_backend", cfg.RateLimit.Backend))
	return nil
}

// Handler returns the HTTP handler built by Init.
func (g *Gateway) Handler() http.Handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.handler
}

// Shutdown stops the server and releases stores. The lock is only held to
// detach resources, so in-flight handlers can finish while the server drains.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	cancel, server, closers, tracer := g.cancel, g.server, g.closers, g.tracer
	g.server, g.closers, g.tracer = nil, nil, nil
	g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if cancel != nil {
		cancel()
	}

	var shutdownErr error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			shutdownErr = err
		}
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			g.logger.Error("failed to close resource", slog.String("error", err.Error()))
		}
	}

	if tracer != nil {
		if err := tracer(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}

	if err := g.config.Close(); err != nil {
		g.logger.Error("failed to close config", slog.String("error", err.Error()))
	}

	g.logger.Info("gateway shutdown complete")
	return shutdownErr
}

// Reload fetches the configuration again and applies the parts that can
// change at runtime: rate limit tiers and the upstream allow-list.
func (g *Gateway) Reload(ctx context.Context) error {
	cfg, err := g.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g.apply(cfg)
	return nil
}

func (g *Gateway) watchConfig() {
	onChange := func(cfg *config.Config) {
		g.logger.Info("config changed, reloading")
		g.apply(cfg)
	}

	if err := g.config.Watch(g.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Warn("config watch unavailable, hot reload disabled", slog.String("error", err.Error()))
		}
	}
}

// apply swaps in the reloadable parts of cfg. Each part synchronizes itself,
// so apply never takes mu and is safe to call from a request handler.
func (g *Gateway) apply(cfg *config.Config) {
	g.tiers.Replace(tiersFromConfig(cfg))
	g.resolver.Update(cfg.Context.AllowedAPIHosts, cfg.Context.RewriteMap())
	g.cfg.Store(cfg)

	g.logger.Info("reload complete",
		slog.Int("tiers", len(cfg.RateLimit.Tiers)),
		slog.Int("allowed_api_hosts", len(cfg.Context.AllowedAPIHosts)))
}

// build creates the admission components. Caller holds g.mu.
func (g *Gateway) build(ctx context.Context, cfg *config.Config) error {
	if cfg.Telemetry.Tracing && g.tracer == nil {
		shutdown, err := telemetry.InitTracer(telemetry.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			Environment: cfg.Server.Environment,
			SampleRatio: cfg.Telemetry.SampleRatio,
		}, g.logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		g.tracer = shutdown
	}

	g.cache = tokencache.New(cfg.Auth.CacheSize,
		tokencache.WithTTLs(cfg.Auth.PositiveTTL, cfg.Auth.NegativeTTL))
	g.resolver = reqctx.NewResolver(cfg.Auth.DefaultAPIURL, cfg.Context.AllowedAPIHosts, cfg.Context.RewriteMap())
	g.tiers = ratelimit.NewTierSet(tiersFromConfig(cfg))

	if g.validator == nil {
		g.validator = tokenauth.NewHTTPValidator(
			tokenauth.NewHTTPClient(cfg.Auth.BlockPrivateNetworks),
			tokenauth.WithValidatePath(cfg.Auth.ValidatePath),
			tokenauth.WithTimeout(cfg.Auth.ValidationTimeout))
	}

	if g.rateStore == nil {
		switch cfg.RateLimit.Backend {
		case config.BackendRedis:
			client, err := ratelimit.Connect(ctx, cfg.RateLimit.RedisURL)
			if err != nil {
				return fmt.Errorf("connect rate limit store: %w", err)
			}
			g.closers = append(g.closers, client)
			g.rateStore = ratelimit.NewRedisStore(client, cfg.RateLimit.RedisPrefix)
		default:
			g.rateStore = ratelimit.NewMemoryStore()
		}
	}
	g.limiter = ratelimit.New(g.rateStore, ratelimit.WithLogger(g.logger))

	if g.audit == nil {
		if cfg.Audit.SQLitePath == "" {
			g.audit = audit.Nop{}
		} else {
			rec, err := audit.NewSQLite(cfg.Audit.SQLitePath,
				audit.WithLogger(g.logger),
				audit.WithDropHook(g.metrics.IncAuditDropped))
			if err != nil {
				return fmt.Errorf("open audit trail: %w", err)
			}
			g.closers = append(g.closers, rec)
			g.audit = rec
		}
	}

	if g.generator == nil {
		proxy, err := upstream.New(cfg.Upstream.GeneratorURL, upstream.WithLogger(g.logger))
		if err != nil {
			return fmt.Errorf("create generator proxy: %w", err)
		}
		g.generator = proxy
	}

	return nil
}

func (g *Gateway) routes(cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(apimw.RequestContextMiddleware(g.resolver, cfg.Server.Environment, cfg.Auth.TokenHeader))
	r.Use(apimw.LoggingMiddleware(g.logger))
	r.Use(apimw.TimeoutMiddleware(cfg.Server.RequestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "simgen-gateway")
	})
	// Rate limiting precedes admission so rejected tokens count too.
	r.Use(apimw.RateLimitMiddleware(g.limiter, g.tiers, ratelimit.TierDefault, apimw.RateLimitOptions{
		Tier:    tierForPath,
		Logger:  g.logger,
		Metrics: g.metrics,
	}))
	r.Use(apimw.TokenAuthMiddleware(apimw.TokenAuthConfig{
		Policy:        g.policy,
		Cache:         g.cache,
		Validator:     g.validator,
		Header:        cfg.Auth.TokenHeader,
		DefaultAPIURL: cfg.Auth.DefaultAPIURL,
		Logger:        g.logger,
		Metrics:       g.metrics,
		Audit:         g.audit,
	}))

	r.Get(endpoint.PathHealth, g.handleHealth)
	r.Post(endpoint.PathReload, g.handleReload)
	r.Post(endpoint.PathTelemetry, g.handleTelemetry)
	r.Method(http.MethodGet, endpoint.PathMetrics, g.metrics.Handler())

	r.Post(pathChat, g.generator.ServeHTTP)
	r.Post("/generate/email", g.generator.ServeHTTP)
	r.Post("/generate/landing-page", g.generator.ServeHTTP)
	r.Post("/translate", g.generator.ServeHTTP)

	for _, path := range endpoint.PublicPaths() {
		r.HandleFunc(path, g.generator.ServeHTTP)
	}

	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	env := g.cfg.Load().Server.Environment

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"environment": env,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (g *Gateway) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := g.Reload(r.Context()); err != nil {
		g.logger.Error("manual reload failed", slog.String("error", err.Error()))
		apimw.AddError(r.Context(), err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal Server Error",
			"message": "Configuration reload failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (g *Gateway) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTelemetryBody+1))
	if err != nil || len(body) > maxTelemetryBody || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Bad Request",
			"message": "Telemetry payload must be a JSON document under 64KB",
		})
		return
	}

	g.metrics.IncTelemetryEvents()
	g.logger.Debug("telemetry received",
		slog.Int("bytes", len(body)),
		slog.String("correlation_id", reqctx.CorrelationID(r.Context())))
	w.WriteHeader(http.StatusAccepted)
}

// tierForPath selects the rate-limit tier. Paths without a dedicated tier,
// unknown paths included, share the default tier.
func tierForPath(r *http.Request) string {
	switch r.URL.Path {
	case endpoint.PathHealth:
		return ratelimit.TierHealth
	case pathChat:
		return ratelimit.TierChat
	default:
		return ratelimit.TierDefault
	}
}

func tiersFromConfig(cfg *config.Config) map[string]ratelimit.Tier {
	tiers := make(map[string]ratelimit.Tier, len(cfg.RateLimit.Tiers))
	for name, t := range cfg.RateLimit.Tiers {
		tiers[name] = ratelimit.Tier{Name: name, MaxRequests: t.MaxRequests, Window: t.Window}
	}
	return tiers
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
