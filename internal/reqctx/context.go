// Package reqctx carries the per-request identifiers extracted at the edge of
// the gateway: correlation id, auth token, company id and the resolved
// upstream API base URL.
package reqctx

import "context"

// Header names read and written by the gateway.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderAuthToken     = "X-Auth-Token"
	HeaderCompanyID     = "X-Company-ID"
	HeaderAPIURL        = "X-API-URL"
)

// RequestContext is the immutable bundle attached to one request.
type RequestContext struct {
	CorrelationID string
	Token         string
	CompanyID     string
	APIBaseURL    string
	Environment   string
	ClientIP      string
}

type ctxKey struct{}

// With returns a copy of ctx carrying rc.
func With(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// From returns the bundle stored in ctx. The value is a copy; changing it has
// no effect on other readers.
func From(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok
}

// CorrelationID returns the correlation id from ctx, or "" if none is set.
func CorrelationID(ctx context.Context) string {
	rc, _ := From(ctx)
	return rc.CorrelationID
}

// APIBaseURL returns the resolved upstream base URL from ctx, or "".
func APIBaseURL(ctx context.Context) string {
	rc, _ := From(ctx)
	return rc.APIBaseURL
}
