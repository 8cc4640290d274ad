// Package endpoint classifies request paths for the admission pipeline.
//
// Every path falls into exactly one class:
//   - internal: system and ops endpoints (health, hot reload, telemetry)
//   - public: customer-facing simulation endpoints that are intentionally open
//   - protected: everything else, requires a valid token
package endpoint

import "fmt"

// Class is the admission class of a request path.
type Class int

const (
	ClassProtected Class = iota
	ClassInternal
	ClassPublic
)

func (c Class) String() string {
	switch c {
	case ClassInternal:
		return "internal"
	case ClassPublic:
		return "public"
	default:
		return "protected"
	}
}

// System paths exempt from token admission. Access is not audited.
const (
	PathHealth    = "/health"
	PathReload    = "/reload"
	PathTelemetry = "/telemetry"
	PathMetrics   = "/metrics"
)

// Simulation paths reached by phishing-simulation recipients. They carry no
// token and every access is audited.
const (
	PathSimulationLanding = "/simulation/landing"
	PathSimulationClick   = "/simulation/click"
	PathSimulationSubmit  = "/simulation/submit"
	PathSimulationReport  = "/simulation/report"
	PathSimulationPixel   = "/simulation/pixel"
)

var (
	internalSkipPaths = []string{
		PathHealth,
		PathReload,
		PathTelemetry,
		PathMetrics,
	}

	publicUnauthenticatedPaths = []string{
		PathSimulationLanding,
		PathSimulationClick,
		PathSimulationSubmit,
		PathSimulationReport,
		PathSimulationPixel,
	}
)

// Policy is an immutable path classification.
type Policy struct {
	internal map[string]struct{}
	public   map[string]struct{}
}

// DefaultPolicy returns the policy built from the package path lists.
func DefaultPolicy() *Policy {
	return NewPolicy(internalSkipPaths, publicUnauthenticatedPaths)
}

// NewPolicy builds a policy from explicit path lists.
// It panics if a path appears in both lists.
func NewPolicy(internal, public []string) *Policy {
	p := &Policy{
		internal: make(map[string]struct{}, len(internal)),
		public:   make(map[string]struct{}, len(public)),
	}
	for _, path := range internal {
		p.internal[path] = struct{}{}
	}
	for _, path := range public {
		if _, dup := p.internal[path]; dup {
			panic(fmt.Sprintf("endpoint: %q is both internal and public", path))
		}
		p.public[path] = struct{}{}
	}
	return p
}

// IsInternalSkip reports whether path is a system endpoint.
func (p *Policy) IsInternalSkip(path string) bool {
	_, ok := p.internal[path]
	return ok
}

// IsPublicUnauthenticated reports whether path is an open simulation endpoint.
func (p *Policy) IsPublicUnauthenticated(path string) bool {
	_, ok := p.public[path]
	return ok
}

// IsExemptFromAuth reports whether path skips token admission.
func (p *Policy) IsExemptFromAuth(path string) bool {
	return p.IsInternalSkip(path) || p.IsPublicUnauthenticated(path)
}

// Classify returns the class of path.
func (p *Policy) Classify(path string) Class {
	switch {
	case p.IsInternalSkip(path):
		return ClassInternal
	case p.IsPublicUnauthenticated(path):
		return ClassPublic
	default:
		return ClassProtected
	}
}

// PublicPaths returns a copy of the public-unauthenticated path list.
func PublicPaths() []string {
	return append([]string(nil), publicUnauthenticatedPaths...)
}
