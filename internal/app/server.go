package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/blockrun/blockrunproxy/internal/circuitbreaker"
	"github.com/blockrun/blockrunproxy/internal/classifier"
	"github.com/blockrun/blockrunproxy/internal/compression"
	"github.com/blockrun/blockrunproxy/internal/dedup"
	"github.com/blockrun/blockrunproxy/internal/dispatcher"
	"github.com/blockrun/blockrunproxy/internal/health"
	"github.com/blockrun/blockrunproxy/internal/httpapi"
	"github.com/blockrun/blockrunproxy/internal/logging"
	"github.com/blockrun/blockrunproxy/internal/metrics"
	"github.com/blockrun/blockrunproxy/internal/ratelimit"
	"github.com/blockrun/blockrunproxy/internal/scorer"
	"github.com/blockrun/blockrunproxy/internal/selector"
	"github.com/blockrun/blockrunproxy/internal/store"
	"github.com/blockrun/blockrunproxy/internal/tier"
	"github.com/blockrun/blockrunproxy/internal/tracing"
	"github.com/blockrun/blockrunproxy/internal/upstream"
	"github.com/blockrun/blockrunproxy/internal/upstream/anthropic"
	"github.com/blockrun/blockrunproxy/internal/upstream/openai"
	"github.com/blockrun/blockrunproxy/internal/upstream/vllm"
	"github.com/blockrun/blockrunproxy/internal/wallet"
)

// Server owns every long-lived collaborator wired up at boot: the routing
// table, the request pipeline, and the background health prober. It is the
// direct descendant of the teacher's Server, with the vault/router-engine/
// Temporal/TSDB machinery replaced by the wallet-signed, tier-routed
// dispatcher pipeline this proxy actually runs.
type Server struct {
	cfg Config

	r *chi.Mux

	store       store.Store
	logger      *slog.Logger
	healthTrack *health.Tracker
	prober      *health.Prober // nil when no adapter implements health.Probeable
	rateLimiter *ratelimit.Limiter
	dispatcher  *dispatcher.Dispatcher
	catalog     *selector.Catalog
	signer      wallet.Signer

	otelShutdown func(context.Context) error // nil when OTel disabled
}

// NewServer wires every collaborator from cfg: logging and tracing, the
// wallet signer, the SQLite-backed config store, the routing catalog
// (defaults merged with anything persisted), the provider adapters, and the
// dispatcher pipeline they all feed into.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info("opentelemetry tracing enabled",
			slog.String("endpoint", cfg.OTelEndpoint),
			slog.String("service", cfg.OTelServiceName),
		)
	}

	signer, err := loadSigner(cfg)
	if err != nil {
		if otelShutdown != nil {
			_ = otelShutdown(context.Background())
		}
		return nil, fmt.Errorf("wallet: %w", err)
	}
	logger.Info("wallet loaded", slog.String("address", signer.Address()))

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		if otelShutdown != nil {
			_ = otelShutdown(context.Background())
		}
		return nil, fmt.Errorf("store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		if otelShutdown != nil {
			_ = otelShutdown(context.Background())
		}
		return nil, fmt.Errorf("store migrate: %w", err)
	}

	catalog := defaultCatalog()
	catalogRec, err := db.LoadCatalogConfig(ctx)
	if err != nil {
		logger.Warn("loading persisted catalog failed, using defaults", slog.String("error", err.Error()))
	} else if err := applyCatalogConfig(catalog, catalogRec); err != nil {
		logger.Warn("applying persisted catalog failed, using defaults", slog.String("error", err.Error()))
	}

	scoringCfg := scorer.DefaultScoringConfig()
	overrides := tier.DefaultOverrides()
	scoringRec, err := db.LoadScoringConfig(ctx)
	if err != nil {
		logger.Warn("loading persisted scoring config failed, using defaults", slog.String("error", err.Error()))
	} else if scoringRec.WeightsJSON != "" || scoringRec.BoundariesJSON != "" || scoringRec.OverridesJSON != "" {
		scoringCfg, overrides, err = scoringConfigFromRecord(scoringRec)
		if err != nil {
			logger.Warn("decoding persisted scoring config failed, using defaults", slog.String("error", err.Error()))
			scoringCfg, overrides = scorer.DefaultScoringConfig(), tier.DefaultOverrides()
		}
	}
	if cfg.AmbiguityEpsilon != 0 {
		scoringCfg.AmbiguityEpsilon = cfg.AmbiguityEpsilon
	}

	healthTrack := health.NewTracker(health.DefaultConfig())

	adapters, probeTargets := buildAdapters(cfg, time.Duration(cfg.ProviderTimeoutSecs)*time.Second)

	var prober *health.Prober
	if len(probeTargets) > 0 {
		prober = health.NewProber(health.DefaultProberConfig(), healthTrack, probeTargets, logger)
		prober.Start()
	}

	sel := selector.New(catalog, healthTrack)
	sc := scorer.NewScorer(scoringCfg)
	cl := classifier.New(overrides)
	comp := compression.New(compression.DefaultConfig())
	dedupCache := dedup.New(dedup.Config{
		TTL:         time.Duration(cfg.DedupTTLSecs) * time.Second,
		MaxBodySize: cfg.MaxRequestSizeKB * 1024,
	})
	breakers := circuitbreaker.NewRegistry()

	dispCfg := dispatcher.DefaultConfig()
	dispCfg.MaxRequestSizeKB = cfg.MaxRequestSizeKB
	dispCfg.CompressionThresholdKB = cfg.CompressionThresholdKB
	dispCfg.AttemptTimeout = time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	if _, ok := adapters["vllm"]; ok {
		dispCfg.EmergencyFreeModel = string(findFreeModel(catalog))
	}

	disp := dispatcher.New(dispCfg, sc, cl, sel, comp, dedupCache, signer, adapters, breakers, healthTrack)

	m := metrics.New()
	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimitedTotal))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}
	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Dispatcher:        disp,
		Metrics:           m,
		Catalog:           catalog,
		Signer:            signer,
		RateLimiter:       rl,
		DashboardProxyURL: cfg.DashboardProxyURL,
	})

	return &Server{
		cfg:          cfg,
		r:            r,
		store:        db,
		logger:       logger,
		healthTrack:  healthTrack,
		prober:       prober,
		rateLimiter:  rl,
		dispatcher:   disp,
		catalog:      catalog,
		signer:       signer,
		otelShutdown: otelShutdown,
	}, nil
}

// loadSigner builds the wallet signer from an inline key (BLOCKRUN_WALLET_KEY)
// when set, falling back to the key file at WalletKeyPath (or the default
// path under the user's home directory) otherwise.
func loadSigner(cfg Config) (wallet.Signer, error) {
	if cfg.WalletKey != "" {
		return wallet.NewFromKeyString(cfg.WalletKey)
	}
	path := cfg.WalletKeyPath
	if path == "" {
		path = wallet.DefaultKeyPath()
	}
	return wallet.LoadFileSigner(path)
}

// buildAdapters constructs one upstream.Adapter per provider with a
// configured endpoint. vllm is opt-in: an empty VLLMEndpoint disables it
// entirely, since self-hosted inference has no sensible default. Only the
// anthropic adapter satisfies health.Probeable today, so it is the only one
// offered to the prober.
func buildAdapters(cfg Config, timeout time.Duration) (map[string]upstream.Adapter, []health.Probeable) {
	adapters := make(map[string]upstream.Adapter)
	var probeTargets []health.Probeable

	oa := openai.New("openai", cfg.OpenAIBaseURL, openai.WithTimeout(timeout))
	adapters["openai"] = oa

	an := anthropic.New("anthropic", cfg.AnthropicBaseURL, anthropic.WithTimeout(timeout))
	adapters["anthropic"] = an
	probeTargets = append(probeTargets, an)

	if cfg.VLLMEndpoint != "" {
		vl := vllm.New("vllm", cfg.VLLMEndpoint, vllm.WithTimeout(timeout))
		adapters["vllm"] = vl
	}

	return adapters, probeTargets
}

// findFreeModel returns the primary model of the eco profile's SIMPLE tier
// as the chain's last-resort emergency fallback, or "" when none is configured.
func findFreeModel(c *selector.Catalog) selector.ModelID {
	if tc, ok := c.Eco[tier.Simple]; ok {
		return tc.Primary
	}
	return ""
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies hot-reloadable configuration at runtime without a restart:
// rate limiter settings and the log level. The routing catalog and scoring
// weights are built once in NewServer and are not changed by Reload; new
// values for them take effect only when the process is started again.
func (s *Server) Reload(cfg Config) {
	s.rateLimiter.UpdateLimits(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg
	s.logger.Info("configuration reloaded",
		slog.Int("rate_limit_rps", cfg.RateLimitRPS),
		slog.Int("rate_limit_burst", cfg.RateLimitBurst),
		slog.String("log_level", cfg.LogLevel),
	)
}

// Close stops every background worker and releases the store. The caller
// is responsible for draining the HTTP listener first (see cmd/blockrunproxy).
func (s *Server) Close() error {
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
