package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.TokenHeader != "X-Auth-Token" {
		t.Errorf("Auth.TokenHeader = %q", cfg.Auth.TokenHeader)
	}
	if cfg.Auth.PositiveTTL != 30*time.Minute || cfg.Auth.NegativeTTL != time.Minute {
		t.Errorf("ttls = %v/%v, want 30m/1m", cfg.Auth.PositiveTTL, cfg.Auth.NegativeTTL)
	}
	if cfg.RateLimit.Backend != BackendMemory {
		t.Errorf("RateLimit.Backend = %q", cfg.RateLimit.Backend)
	}
	chat := cfg.RateLimit.Tiers["chat"]
	if chat.MaxRequests != 300 || chat.Window != 15*time.Minute {
		t.Errorf("chat tier = %+v", chat)
	}
	if got := cfg.Context.RewriteMap()["dash.phishlab.io"]; got != "api.phishlab.io" {
		t.Errorf("default rewrite = %q", got)
	}
}

func TestLoad_MissingFileIsOK(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  environment: staging
auth:
  positive_ttl: 10m
context:
  allowed_api_hosts:
    - phishlab.io
    - partner.net
  host_rewrites:
    - from: portal.partner.net
      to: api.partner.net
ratelimit:
  tiers:
    chat:
      max_requests: 50
`)
	t.Setenv("SIMGEN_SERVER__PORT", "7070")
	t.Setenv("SIMGEN_RATELIMIT__TIERS__DEFAULT__WINDOW", "1m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Server.Environment != "staging" {
		t.Errorf("Server.Environment = %q", cfg.Server.Environment)
	}
	if cfg.Auth.PositiveTTL != 10*time.Minute {
		t.Errorf("Auth.PositiveTTL = %v", cfg.Auth.PositiveTTL)
	}
	if len(cfg.Context.AllowedAPIHosts) != 2 {
		t.Errorf("AllowedAPIHosts = %v", cfg.Context.AllowedAPIHosts)
	}
	if got := cfg.Context.RewriteMap()["portal.partner.net"]; got != "api.partner.net" {
		t.Errorf("rewrite = %q", got)
	}
	chat := cfg.RateLimit.Tiers["chat"]
	if chat.MaxRequests != 50 || chat.Window != 15*time.Minute {
		t.Errorf("chat tier = %+v, want 50 per 15m", chat)
	}
	if got := cfg.RateLimit.Tiers["default"].Window; got != time.Minute {
		t.Errorf("default window = %v, want 1m", got)
	}
}

func TestLoad_EnvList(t *testing.T) {
	t.Setenv("SIMGEN_CONTEXT__ALLOWED_API_HOSTS", "phishlab.io, phishlab.dev ,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"phishlab.io", "phishlab.dev"}
	if len(cfg.Context.AllowedAPIHosts) != len(want) {
		t.Fatalf("AllowedAPIHosts = %v, want %v", cfg.Context.AllowedAPIHosts, want)
	}
	for i := range want {
		if cfg.Context.AllowedAPIHosts[i] != want[i] {
			t.Errorf("AllowedAPIHosts[%d] = %q, want %q", i, cfg.Context.AllowedAPIHosts[i], want[i])
		}
	}
}

func TestLoad_SubstitutesRedisURL(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "s3cret")
	path := writeConfig(t, `
ratelimit:
  backend: redis
  redis_url: redis://:${REDIS_PASSWORD}@cache:6379/0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RateLimit.RedisURL != "redis://:s3cret@cache:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RateLimit.RedisURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "ratelimit:\n  backend: memcached\n"},
		{"redis without url", "ratelimit:\n  backend: redis\n"},
		{"zero tier", "ratelimit:\n  tiers:\n    chat:\n      max_requests: 0\n"},
		{"negative ttl longer than positive", "auth:\n  positive_ttl: 1m\n  negative_ttl: 5m\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"relative api url", "auth:\n  default_api_url: api.phishlab.io\n"},
		{"sample ratio above one", "telemetry:\n  sample_ratio: 1.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed\n"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if errors.Is(err, ErrInvalid) {
		t.Error("parse error should not be reported as ErrInvalid")
	}
}
