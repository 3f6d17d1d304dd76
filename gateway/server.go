package gateway

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tabpay/config"
	"tabpay/constraints"
	"tabpay/fees"
	"tabpay/gateway/middleware"
	"tabpay/market"
	"tabpay/observability"
	"tabpay/pipeline"
	"tabpay/settlement"
	"tabpay/storage"
)

// Options collects the collaborators the gateway needs.
type Options struct {
	Store     *storage.Store
	Provider  market.Provider
	Params    config.Parameters
	Logger    *slog.Logger
	Metrics   *observability.PipelineMetrics
	MarketTTL time.Duration
}

// Server exposes the hook pipeline over HTTP. The pipeline stages stay pure;
// the server owns every impure concern: storage, the market snapshot cache,
// metrics, and fallback policy when upstream data is unavailable.
type Server struct {
	store    *storage.Store
	provider market.Provider
	params   config.Parameters

	evaluator  *constraints.Evaluator
	calculator *fees.Calculator
	engine     *settlement.Engine
	pipe       *pipeline.Pipeline

	logger  *slog.Logger
	metrics *observability.PipelineMetrics

	cacheMu sync.Mutex
	cache   market.PriceCache

	nowFn func() time.Time
}

// NewServer wires the pipeline stages from the resolved parameters.
func NewServer(opts Options) (*Server, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	evaluator := constraints.NewEvaluator(opts.Params.Constraints)
	calculator := fees.NewCalculator(opts.Params.Fees, opts.Params.Tiers)
	engine := settlement.NewEngine(opts.Params.Rewards, opts.Params.Tiers)
	pipe, err := pipeline.New(evaluator, calculator, engine)
	if err != nil {
		return nil, err
	}
	ttl := opts.MarketTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	srv := &Server{
		store:      opts.Store,
		provider:   opts.Provider,
		params:     opts.Params,
		evaluator:  evaluator,
		calculator: calculator,
		engine:     engine,
		pipe:       pipe,
		logger:     logger,
		metrics:    opts.Metrics,
		cache:      market.PriceCache{TTL: ttl},
		nowFn:      time.Now,
	}
	return srv, nil
}

// SetClock overrides the time source for deterministic tests.
func (s *Server) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.nowFn = clock
}

// Pipeline exposes the wired orchestrator, mainly for tests.
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipe
}

// Router assembles the HTTP surface with the configured middleware.
func (s *Server) Router(auth *middleware.Authenticator, limits *middleware.RateLimiter, obs *middleware.Observability) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	gatherers := prometheus.Gatherers{}
	if obs != nil {
		gatherers = append(gatherers, obs.Registry())
	}
	if s.metrics != nil {
		gatherers = append(gatherers, s.metrics.Registry())
	}
	if len(gatherers) > 0 {
		r.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		if obs != nil {
			v1.Use(obs.Middleware("v1"))
		}
		if auth != nil {
			v1.Use(auth.Middleware())
		}
		register := func(route chi.Router, key string) chi.Router {
			if limits != nil {
				return route.With(limits.Middleware(key))
			}
			return route
		}
		register(v1, "constraints").Post("/constraints/check", s.handleConstraintsCheck)
		register(v1, "fees").Post("/fees/quote", s.handleFeeQuote)
		register(v1, "settlement").Post("/settlement", s.handleSettlement)
		register(v1, "pipeline").Post("/pipeline", s.handlePipeline)
		v1.Get("/loyalty/{account}", s.handleLoyalty)
		v1.Put("/merchants/{id}", s.handleMerchantUpsert)
		v1.Get("/merchants/{id}", s.handleMerchantGet)
	})

	return r
}

// snapshot resolves the current market view through the explicit cache. When
// the provider fails the previous snapshot (or the safe zero-value fallback)
// is used; degrading is gateway policy, never pipeline policy.
func (s *Server) snapshot(ctx context.Context) market.Snapshot {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	now := s.nowFn()
	refreshed, err := s.cache.Refresh(now, func() (market.Snapshot, error) {
		return s.provider.Snapshot(ctx)
	})
	if err != nil {
		s.logger.Warn("market snapshot unavailable, using fallback", "error", err)
		return s.cache.Snapshot.Normalize()
	}
	s.cache = refreshed
	return s.cache.Snapshot.Normalize()
}

// tokenRate derives the reward-token conversion from the market reference
// price, defaulting to parity when no price is known.
func tokenRate(snapshot market.Snapshot) *big.Rat {
	if snapshot.ReferencePrice != nil && snapshot.ReferencePrice.Sign() > 0 {
		return new(big.Rat).Set(snapshot.ReferencePrice)
	}
	return big.NewRat(1, 1)
}
