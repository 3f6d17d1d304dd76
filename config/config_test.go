package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hookd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7085" {
		t.Fatalf("listen = %q, want :7085", cfg.ListenAddress)
	}
	if cfg.DatabasePath != "hookd.db" {
		t.Fatalf("database = %q, want hookd.db", cfg.DatabasePath)
	}
	if cfg.Market.Provider != "simulated" {
		t.Fatalf("provider = %q, want simulated", cfg.Market.Provider)
	}
	if cfg.Market.CacheTTL.Duration != 30*time.Second {
		t.Fatalf("cache ttl = %v, want 30s", cfg.Market.CacheTTL.Duration)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
database: "/var/lib/hookd/hookd.db"
policy: "/etc/hookd/policy.toml"
market:
  provider: chain
  cache_ttl: 10s
  rpc_endpoint: "https://rpc.example.org"
  feed_address: "0x0000000000000000000000000000000000000001"
  pool_address: "0x0000000000000000000000000000000000000002"
  feed_decimals: 8
auth:
  enabled: true
  hmac_secret: "topsecret"
  issuer: "tabpay"
  audience: "hookd"
  clock_skew: 1m
rate_limits:
  pipeline:
    requests_per_minute: 600
    burst: 20
telemetry:
  endpoint: "otel:4318"
  insecure: true
  metrics: true
  traces: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("listen = %q", cfg.ListenAddress)
	}
	if cfg.Market.Provider != "chain" || cfg.Market.CacheTTL.Duration != 10*time.Second {
		t.Fatalf("unexpected market config %+v", cfg.Market)
	}
	if !cfg.Auth.Enabled || cfg.Auth.ClockSkew.Duration != time.Minute {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
	limit, ok := cfg.RateLimits["pipeline"]
	if !ok || limit.RequestsPerMinute != 600 || limit.Burst != 20 {
		t.Fatalf("unexpected rate limits %+v", cfg.RateLimits)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, "market:\n  provider: lunar\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestLoadChainProviderRequiresEndpoint(t *testing.T) {
	path := writeConfig(t, "market:\n  provider: chain\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when chain provider lacks rpc_endpoint")
	}
}

func TestLoadAuthRequiresSecret(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when auth is enabled without a secret")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
