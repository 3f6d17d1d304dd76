package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for hookd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DatabasePath  string          `yaml:"database"`
	PolicyPath    string          `yaml:"policy"`
	Market        MarketConfig    `yaml:"market"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimits    map[string]Rate `yaml:"rate_limits"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// MarketConfig selects and tunes the market snapshot provider.
type MarketConfig struct {
	Provider     string   `yaml:"provider"`
	Seed         int64    `yaml:"seed"`
	CacheTTL     Duration `yaml:"cache_ttl"`
	RPCEndpoint  string   `yaml:"rpc_endpoint"`
	FeedAddress  string   `yaml:"feed_address"`
	PoolAddress  string   `yaml:"pool_address"`
	FeedDecimals uint8    `yaml:"feed_decimals"`
}

// AuthConfig controls the gateway bearer authentication.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// Rate configures one route's rate limit.
type Rate struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// TelemetryConfig tunes the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7085"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "hookd.db"
	}
	if cfg.Market.Provider == "" {
		cfg.Market.Provider = "simulated"
	}
	if cfg.Market.CacheTTL.Duration <= 0 {
		cfg.Market.CacheTTL = Duration{30 * time.Second}
	}
	if cfg.Market.FeedDecimals == 0 {
		cfg.Market.FeedDecimals = 8
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew = Duration{2 * time.Minute}
	}
}

func validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Market.Provider)) {
	case "simulated":
	case "chain":
		if strings.TrimSpace(cfg.Market.RPCEndpoint) == "" {
			return fmt.Errorf("config: chain provider requires rpc_endpoint")
		}
		if strings.TrimSpace(cfg.Market.FeedAddress) == "" {
			return fmt.Errorf("config: chain provider requires feed_address")
		}
	default:
		return fmt.Errorf("config: unknown market provider %q", cfg.Market.Provider)
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: auth enabled without hmac_secret")
	}
	for route, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute <= 0 {
			return fmt.Errorf("config: rate limit for %s must be positive", route)
		}
	}
	return nil
}
