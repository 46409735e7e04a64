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
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if !cfg.Auth.enabledSet {
		t.Fatalf("expected auth.enabled default to mark enabledSet true")
	}
	if cfg.ListenAddress != ":8080" || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadMissingEnabledDefaultsToTrue(t *testing.T) {
	path := writeConfig(t, "auth:\n  hmacSecret: s3cret\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth to stay enabled when the key is omitted")
	}
	if cfg.Auth.ScopeClaim != "scope" || cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("auth defaults not applied: %+v", cfg.Auth)
	}
}

func TestLoadFullDocument(t *testing.T) {
	yaml := `
listen: 127.0.0.1:9090
readTimeout: 5s
rateLimits:
  - id: marketplace
    requestsPerMinute: 120
    burst: 10
auth:
  enabled: true
  hmacSecret: s3cret
  issuer: nftmarket
  writeScope: marketplace:write
  replayStore: " /var/lib/nftmarket/replay "
observability:
  tracing: true
  otlpMetrics: true
  otlpEndpoint: collector:4318
  sampleRatio: 0.25
cors:
  allowedOrigins: ["https://app.example"]
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9090" || cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("unexpected listener config: %+v", cfg)
	}
	if len(cfg.RateLimits) != 1 || cfg.RateLimits[0].Burst != 10 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimits)
	}
	if cfg.Auth.WriteScope != "marketplace:write" || cfg.Auth.Issuer != "nftmarket" {
		t.Fatalf("unexpected auth: %+v", cfg.Auth)
	}
	if cfg.Auth.ReplayStore != "/var/lib/nftmarket/replay" {
		t.Fatalf("replay store path not trimmed: %q", cfg.Auth.ReplayStore)
	}
	if !cfg.Observability.Tracing || !cfg.Observability.OTLPMetrics || cfg.Observability.OTLPEndpoint != "collector:4318" || cfg.Observability.SampleRatio != 0.25 {
		t.Fatalf("unexpected observability: %+v", cfg.Observability)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 {
		t.Fatalf("unexpected cors: %+v", cfg.CORS)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := Load(writeConfig(t, "listne: :8080\n")); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestValidateRateLimits(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing id", "rateLimits:\n  - requestsPerMinute: 10\n"},
		{"duplicate id", "rateLimits:\n  - id: a\n  - id: a\n"},
		{"negative burst", "rateLimits:\n  - id: a\n    burst: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateEnvironmentRules(t *testing.T) {
	cfg := defaults()
	cfg.Auth.HMACSecret = ""
	if err := cfg.Validate("prod"); !errors.Is(err, ErrAuthSecretMissing) {
		t.Fatalf("expected ErrAuthSecretMissing, got %v", err)
	}
	if err := cfg.Validate("dev"); err != nil {
		t.Fatalf("dev should tolerate a missing secret: %v", err)
	}

	cfg.Auth.Enabled = false
	if err := cfg.Validate("prod"); !errors.Is(err, ErrAuthDisabledOutsideDev) {
		t.Fatalf("expected ErrAuthDisabledOutsideDev, got %v", err)
	}
	if err := cfg.Validate("DEV"); err != nil {
		t.Fatalf("dev may disable auth: %v", err)
	}
}
