/*
Package middleware provides the HTTP admission chain of the simulation
content gateway.

# Middleware Components

## Request context (requestcontext.go)

RequestContextMiddleware builds the reqctx bundle for the request:
  - correlation id from X-Correlation-ID, or a fresh UUID
  - token, company id and client IP from headers
  - upstream API base URL from X-API-URL, checked against the allow-list

The correlation id is echoed on the response before any other handler runs.

## Logging (logging.go)

LoggingMiddleware emits "request started" and "request completed" lines
with correlation_id, status and duration. Handlers enrich the completion
line with AddLogField/AddError.

## Token admission (tokenauth.go)

TokenAuthMiddleware runs the admission states in order:
 1. exempt path (internal or public simulation endpoint)
 2. token present
 3. token shape
 4. token cache
 5. remote validation, failing closed on transport errors

The admission result is available to handlers via GetAdmission.

## Timeout (timeout.go)

TimeoutMiddleware bounds the request context.

## Rate limiting (ratelimit.go)

RateLimitMiddleware applies a named tier per route group, writes the
X-RateLimit-* headers and answers 429 with retry guidance. The decision is
available via GetRateLimits.

# Middleware Chain Order

 1. RequestContextMiddleware
 2. LoggingMiddleware
 3. TimeoutMiddleware
 4. Recoverer
 5. OTel instrumentation
 6. TokenAuthMiddleware
 7. RateLimitMiddleware (per route group)
*/
package middleware
