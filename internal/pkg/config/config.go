// Package config loads gateway configuration from an optional YAML file and
// SIMGEN_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes environment overrides. Nested keys use "__", e.g.
// SIMGEN_AUTH__POSITIVE_TTL=10m.
const EnvPrefix = "SIMGEN_"

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Context   ContextConfig   `koanf:"context"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	Environment    string        `koanf:"environment"`
}

type AuthConfig struct {
	TokenHeader          string        `koanf:"token_header"`
	DefaultAPIURL        string        `koanf:"default_api_url"`
	ValidatePath         string        `koanf:"validate_path"`
	PositiveTTL          time.Duration `koanf:"positive_ttl"`
	NegativeTTL          time.Duration `koanf:"negative_ttl"`
	CacheSize            int           `koanf:"cache_size"`
	ValidationTimeout    time.Duration `koanf:"validation_timeout"`
	BlockPrivateNetworks bool          `koanf:"block_private_networks"`
}

// ContextConfig controls which caller-supplied upstream API URLs are honored.
type ContextConfig struct {
	AllowedAPIHosts []string      `koanf:"allowed_api_hosts"`
	HostRewrites    []HostRewrite `koanf:"host_rewrites"`
}

// HostRewrite maps a customer-facing host to the API host serving it.
type HostRewrite struct {
	From string `koanf:"from"`
	To   string `koanf:"to"`
}

type RateLimitConfig struct {
	Backend     string                `koanf:"backend"` // memory, redis
	RedisURL    string                `koanf:"redis_url"`
	RedisPrefix string                `koanf:"redis_prefix"`
	Tiers       map[string]TierConfig `koanf:"tiers"`
}

type TierConfig struct {
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
}

type UpstreamConfig struct {
	GeneratorURL string `koanf:"generator_url"`
}

type AuditConfig struct {
	SQLitePath string `koanf:"sqlite_path"` // empty disables the audit trail
}

type TelemetryConfig struct {
	Tracing     bool    `koanf:"tracing"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// RewriteMap returns the host rewrites keyed by source host.
func (c ContextConfig) RewriteMap() map[string]string {
	m := make(map[string]string, len(c.HostRewrites))
	for _, rw := range c.HostRewrites {
		m[rw.From] = rw.To
	}
	return m
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// listKeys are split on commas when set from the environment.
var listKeys = map[string]bool{
	"context.allowed_api_hosts": true,
}

var defaults = map[string]any{
	"server.port":                          8080,
	"server.request_timeout":               30 * time.Second,
	"server.environment":                   "development",
	"auth.token_header":                    "X-Auth-Token",
	"auth.default_api_url":                 "https://api.phishlab.io",
	"auth.validate_path":                   "/auth/validate",
	"auth.positive_ttl":                    30 * time.Minute,
	"auth.negative_ttl":                    time.Minute,
	"auth.cache_size":                      100_000,
	"auth.validation_timeout":              5 * time.Second,
	"context.allowed_api_hosts":            []string{"phishlab.io"},
	"ratelimit.backend":                    BackendMemory,
	"ratelimit.redis_prefix":               "simgen:",
	"ratelimit.tiers.default.max_requests": 100,
	"ratelimit.tiers.default.window":       15 * time.Minute,
	"ratelimit.tiers.chat.max_requests":    300,
	"ratelimit.tiers.chat.window":          15 * time.Minute,
	"ratelimit.tiers.health.max_requests":  1000,
	"ratelimit.tiers.health.window":        time.Minute,
	"upstream.generator_url":               "http://localhost:9000",
	"telemetry.service_name":               "simgen-gateway",
	"telemetry.sample_ratio":               1.0,
}

// Load reads path (if non-empty and present), applies environment overrides
// and defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
	if !k.Exists("context.host_rewrites") {
		k.Set("context.host_rewrites", []map[string]any{
			{"from": "dash.phishlab.io", "to": "api.phishlab.io"},
		})
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.RateLimit.RedisURL = substituteEnvVars(cfg.RateLimit.RedisURL)
	cfg.Upstream.GeneratorURL = substituteEnvVars(cfg.Upstream.GeneratorURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.TokenHeader == "" {
		invalid("auth.token_header is empty")
	}
	if !strings.HasPrefix(c.Auth.DefaultAPIURL, "http://") && !strings.HasPrefix(c.Auth.DefaultAPIURL, "https://") {
		invalid("auth.default_api_url %q must be an absolute http(s) url", c.Auth.DefaultAPIURL)
	}
	if c.Auth.PositiveTTL <= 0 || c.Auth.NegativeTTL <= 0 {
		invalid("auth ttls must be positive")
	}
	if c.Auth.NegativeTTL > c.Auth.PositiveTTL {
		invalid("auth.negative_ttl %s exceeds auth.positive_ttl %s", c.Auth.NegativeTTL, c.Auth.PositiveTTL)
	}
	if c.Auth.CacheSize <= 0 {
		invalid("auth.cache_size must be positive")
	}
	if c.Auth.ValidationTimeout <= 0 {
		invalid("auth.validation_timeout must be positive")
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisURL == "" {
			invalid("ratelimit.redis_url is required for the redis backend")
		}
	default:
		invalid("unknown ratelimit.backend %q", c.RateLimit.Backend)
	}
	for name, tier := range c.RateLimit.Tiers {
		if tier.MaxRequests <= 0 {
			invalid("ratelimit.tiers.%s.max_requests must be positive", name)
		}
		if tier.Window <= 0 {
			invalid("ratelimit.tiers.%s.window must be positive", name)
		}
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		invalid("telemetry.sample_ratio %v must be within [0, 1]", c.Telemetry.SampleRatio)
	}

	for _, rw := range c.Context.HostRewrites {
		if rw.From == "" {
			invalid("context.host_rewrites entry has an empty from")
		}
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
