package reqctx

import (
	"net/http"
	"strings"
)

// Unknown is returned when no client address header is present.
const Unknown = "unknown"

// ClientIP identifies the caller for rate limiting: CF-Connecting-IP, then
// the first X-Forwarded-For hop, then X-Real-IP.
func ClientIP(r *http.Request) string {
	if ip := ProxyClientIP(r); ip != Unknown {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return Unknown
}

// ProxyClientIP returns the address reported by the edge proxy:
// CF-Connecting-IP, then the first X-Forwarded-For hop.
func ProxyClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return Unknown
}
