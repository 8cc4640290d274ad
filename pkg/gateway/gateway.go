// Package gateway provides the public API for embedding the simulation
// content gateway.
package gateway

import (
	"github.com/phishlab/simgen-gateway/internal/runtime"
)

// Gateway is the main entry point for running the gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// ConfigProvider supplies and watches gateway configuration.
type ConfigProvider = runtime.ConfigProvider

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Admission
	WithValidator      = runtime.WithValidator
	WithRateLimitStore = runtime.WithRateLimitStore

	// Observability
	WithLogger        = runtime.WithLogger
	WithMetrics       = runtime.WithMetrics
	WithAuditRecorder = runtime.WithAuditRecorder

	// Upstream
	WithGenerator = runtime.WithGenerator
)
