// Package upstream forwards admitted requests to the content generator
// backend.
package upstream

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/phishlab/simgen-gateway/internal/reqctx"
)

// Proxy is a reverse proxy to a single generator backend.
type Proxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithTransport overrides the base transport. It is still wrapped with
// OpenTelemetry instrumentation.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) {
		p.proxy.Transport = otelhttp.NewTransport(rt)
	}
}

// WithLogger sets the logger for backend failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a proxy to generatorURL.
func New(generatorURL string, opts ...Option) (*Proxy, error) {
	target, err := url.Parse(generatorURL)
	if err != nil {
		return nil, fmt.Errorf("invalid generator url: %w", err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("invalid generator url %q: must be absolute http(s)", generatorURL)
	}

	p := &Proxy{target: target, logger: slog.Default()}
	p.proxy = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		Transport:    otelhttp.NewTransport(http.DefaultTransport),
		ErrorHandler: p.handleError,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.SetXForwarded()

	// The correlation id may have been generated at the edge; make sure the
	// backend sees the same one the client got back.
	if rc, ok := reqctx.From(pr.In.Context()); ok {
		pr.Out.Header.Set(reqctx.HeaderCorrelationID, rc.CorrelationID)
		if rc.APIBaseURL != "" {
			pr.Out.Header.Set(reqctx.HeaderAPIURL, rc.APIBaseURL)
		}
	}
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("generator backend unavailable",
		slog.String("path", r.URL.Path),
		slog.String("correlation_id", reqctx.CorrelationID(r.Context())),
		slog.String("error", err.Error()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	fmt.Fprintf(w, `{"error":%q,"message":"Content generator is unavailable"}`, http.StatusText(http.StatusBadGateway))
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}
