package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tabpay/config"
	"tabpay/gateway"
	"tabpay/gateway/middleware"
	"tabpay/market"
	"tabpay/observability"
	"tabpay/observability/logging"
	telemetry "tabpay/observability/otel"
	"tabpay/storage"
)

func main() {
	var (
		cfgPath    string
		policyPath string
	)
	flag.StringVar(&cfgPath, "config", "hookd.yaml", "path to hookd configuration file")
	flag.StringVar(&policyPath, "policy", "", "path to policy file (overrides config)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TABPAY_ENV"))
	logger := logging.Setup("hookd", env)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("hookd: load config: %v", err)
	}

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		endpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
		if endpoint == "" {
			endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		}
		insecure := cfg.Telemetry.Insecure
		if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				insecure = parsed
			}
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "hookd",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("hookd: init telemetry: %v", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	params, err := loadPolicy(cfg, policyPath)
	if err != nil {
		log.Fatalf("hookd: load policy: %v", err)
	}

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("hookd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("hookd: open storage: %v", err)
	}
	defer store.Close()

	provider, err := buildProvider(cfg.Market)
	if err != nil {
		log.Fatalf("hookd: market provider: %v", err)
	}

	metrics := observability.NewPipelineMetrics("hookd")
	srv, err := gateway.NewServer(gateway.Options{
		Store:     store,
		Provider:  provider,
		Params:    params,
		Logger:    logger,
		Metrics:   metrics,
		MarketTTL: cfg.Market.CacheTTL.Duration,
	})
	if err != nil {
		log.Fatalf("hookd: server: %v", err)
	}

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for route, limit := range cfg.RateLimits {
		limits[route] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}
	limiter := middleware.NewRateLimiter(limits)
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "hookd",
		Enabled:     true,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Router(auth, limiter, obs),
		ReadHeaderTimeout: 5 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("hookd listening", "address", cfg.ListenAddress, "market_provider", cfg.Market.Provider)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("hookd: http server: %v", err)
	}
}

// loadConfig falls back to built-in defaults when the default config file is
// absent, so a bare `hookd` starts a development instance.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func loadPolicy(cfg config.Config, override string) (config.Parameters, error) {
	path := strings.TrimSpace(override)
	if path == "" {
		path = strings.TrimSpace(cfg.PolicyPath)
	}
	if path == "" {
		return config.DefaultParameters(), nil
	}
	return config.LoadPolicy(path)
}

func buildProvider(cfg config.MarketConfig) (market.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "simulated":
		return market.NewSimulatedProvider(cfg.Seed), nil
	case "chain":
		client, err := market.DialChainClient(cfg.RPCEndpoint)
		if err != nil {
			return nil, err
		}
		feed := common.HexToAddress(cfg.FeedAddress)
		var pool common.Address
		if strings.TrimSpace(cfg.PoolAddress) != "" {
			pool = common.HexToAddress(cfg.PoolAddress)
		}
		return market.NewChainProvider(client, feed, pool, cfg.FeedDecimals)
	default:
		return nil, errors.New("unknown market provider " + cfg.Provider)
	}
}
