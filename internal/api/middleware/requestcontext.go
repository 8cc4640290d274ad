package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/phishlab/simgen-gateway/internal/reqctx"
)

// RequestContextMiddleware builds the per-request reqctx bundle from headers
// and echoes the correlation id on the response. It must run first so every
// later middleware and handler can read the bundle. tokenHeader names the
// header carrying the auth token; empty means X-Auth-Token.
func RequestContextMiddleware(resolver *reqctx.Resolver, environment, tokenHeader string) func(http.Handler) http.Handler {
	if tokenHeader == "" {
		tokenHeader = reqctx.HeaderAuthToken
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := strings.TrimSpace(r.Header.Get(reqctx.HeaderCorrelationID))
			if correlationID == "" {
				correlationID = uuid.New().String()
			}

			// Set before calling next so the header survives a panic further down.
			w.Header().Set(reqctx.HeaderCorrelationID, correlationID)

			rc := reqctx.RequestContext{
				CorrelationID: correlationID,
				Token:         strings.TrimSpace(r.Header.Get(tokenHeader)),
				CompanyID:     strings.TrimSpace(r.Header.Get(reqctx.HeaderCompanyID)),
				APIBaseURL:    resolver.Resolve(r.Header.Get(reqctx.HeaderAPIURL)),
				Environment:   environment,
				ClientIP:      reqctx.ClientIP(r),
			}

			next.ServeHTTP(w, r.WithContext(reqctx.With(r.Context(), rc)))
		})
	}
}
