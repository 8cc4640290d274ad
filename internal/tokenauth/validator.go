package tokenauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/phishlab/simgen-gateway/internal/pkg/safehttp"
)

const (
	// DefaultValidatePath is appended to the API base URL.
	DefaultValidatePath = "/auth/validate"
	// DefaultValidateTimeout bounds a single validation call.
	DefaultValidateTimeout = 5 * time.Second

	maxDrainBytes = 64 << 10
)

// Validator asks the auth service whether a token is valid.
// err is non-nil only when no HTTP status was received (network error,
// timeout, cancellation). Any received status is returned as-is.
type Validator interface {
	Validate(ctx context.Context, baseURL, token string) (status int, err error)
}

// IsSuccess reports whether status is a 2xx code.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// HTTPValidator calls GET {baseURL}/auth/validate with the token as a bearer
// credential.
type HTTPValidator struct {
	client  *http.Client
	path    string
	timeout time.Duration
}

// ValidatorOption configures an HTTPValidator.
type ValidatorOption func(*HTTPValidator)

// WithValidatePath overrides the validation path.
func WithValidatePath(path string) ValidatorOption {
	return func(v *HTTPValidator) {
		if path != "" {
			v.path = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) ValidatorOption {
	return func(v *HTTPValidator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewHTTPValidator creates a validator. A nil client uses NewHTTPClient(false).
func NewHTTPValidator(client *http.Client, opts ...ValidatorOption) *HTTPValidator {
	if client == nil {
		client = NewHTTPClient(false)
	}
	v := &HTTPValidator{
		client:  client,
		path:    DefaultValidatePath,
		timeout: DefaultValidateTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewHTTPClient returns a traced client for the auth service. When
// blockPrivate is set, connections to loopback and private ranges are refused
// because the base URL comes from a request header.
func NewHTTPClient(blockPrivate bool) *http.Client {
	var base http.RoundTripper = http.DefaultTransport
	if blockPrivate {
		base = safehttp.NewTransport()
	}
	return &http.Client{Transport: otelhttp.NewTransport(base)}
}

// Validate implements Validator.
func (v *HTTPValidator) Validate(ctx context.Context, baseURL, token string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	endpoint := strings.TrimRight(baseURL, "/") + v.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call validation endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return resp.StatusCode, nil
}
