package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phishlab/simgen-gateway/internal/adapters/config/file"
	"github.com/phishlab/simgen-gateway/internal/audit"
	"github.com/phishlab/simgen-gateway/internal/metrics"
	"github.com/phishlab/simgen-gateway/internal/pkg/config"
	"github.com/phishlab/simgen-gateway/internal/ratelimit"
	"github.com/phishlab/simgen-gateway/internal/tokenauth"
)

// ConfigProvider supplies configuration and change notifications.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.config = provider
		return nil
	}
}

// WithConfig uses a fixed configuration. Reload re-applies it unchanged.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		g.config = staticProvider{cfg: cfg}
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ConfigProvider) Option {
	return func(g *Gateway) error {
		g.config = provider
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithValidator replaces the HTTP token validator.
func WithValidator(v tokenauth.Validator) Option {
	return func(g *Gateway) error {
		g.validator = v
		return nil
	}
}

// WithRateLimitStore replaces the store selected by ratelimit.backend.
func WithRateLimitStore(store ratelimit.Store) Option {
	return func(g *Gateway) error {
		g.rateStore = store
		return nil
	}
}

// WithAuditRecorder replaces the recorder selected by audit.sqlite_path.
func WithAuditRecorder(rec audit.Recorder) Option {
	return func(g *Gateway) error {
		g.audit = rec
		return nil
	}
}

// WithMetrics sets the collectors exposed on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) error {
		g.metrics = m
		return nil
	}
}

// WithGenerator replaces the reverse proxy to the content generator.
func WithGenerator(h http.Handler) Option {
	return func(g *Gateway) error {
		g.generator = h
		return nil
	}
}

type staticProvider struct {
	cfg *config.Config
}

func (p staticProvider) Load(context.Context) (*config.Config, error) { return p.cfg, nil }

func (p staticProvider) Watch(context.Context, func(*config.Config)) error { return nil }

func (p staticProvider) Close() error { return nil }
