package reqctx

import (
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Resolver validates caller-supplied upstream API URLs against an allow-list.
// The allow-list and rewrites can be replaced at runtime.
type Resolver struct {
	mu           sync.RWMutex
	defaultURL   string
	allowedHosts []string
	rewrites     []rewrite
}

type rewrite struct {
	from, to string
}

// NewResolver creates a resolver. defaultURL is returned whenever the
// supplied value cannot be used. rewrites maps a host substring to its
// replacement, e.g. a dashboard domain to the matching API domain.
func NewResolver(defaultURL string, allowedHosts []string, rewrites map[string]string) *Resolver {
	r := &Resolver{defaultURL: strings.TrimRight(defaultURL, "/")}
	r.Update(allowedHosts, rewrites)
	return r
}

// Update replaces the allow-list and rewrites.
func (r *Resolver) Update(allowedHosts []string, rewrites map[string]string) {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	rw := make([]rewrite, 0, len(rewrites))
	for from, to := range rewrites {
		if from != "" {
			rw = append(rw, rewrite{from: from, to: to})
		}
	}
	sort.Slice(rw, func(i, j int) bool { return rw[i].from < rw[j].from })

	r.mu.Lock()
	r.allowedHosts = hosts
	r.rewrites = rw
	r.mu.Unlock()
}

// Default returns the fallback base URL.
func (r *Resolver) Default() string {
	return r.defaultURL
}

// Resolve returns the base URL to use for raw. Blank or malformed values,
// and hosts that match no allowed domain, resolve to the default.
func (r *Resolver) Resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return r.defaultURL
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return r.defaultURL
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.allowed(u.Hostname()) {
		return r.defaultURL
	}

	resolved := raw
	for _, rw := range r.rewrites {
		resolved = strings.ReplaceAll(resolved, rw.from, rw.to)
	}
	return strings.TrimRight(resolved, "/")
}

func (r *Resolver) allowed(host string) bool {
	for _, domain := range r.allowedHosts {
		if strings.Contains(host, domain) {
			return true
		}
	}
	return false
}
