package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nftmarket/config"
	"nftmarket/core/events"
	"nftmarket/core/state"
	gatewayauth "nftmarket/gateway/auth"
	gatewayconfig "nftmarket/gateway/config"
	"nftmarket/gateway/middleware"
	"nftmarket/gateway/routes"
	"nftmarket/native/bank"
	"nftmarket/native/common"
	"nftmarket/native/marketplace"
	"nftmarket/native/nft"
	"nftmarket/observability"
	"nftmarket/observability/logging"
	telemetry "nftmarket/observability/otel"
	"nftmarket/services/eventlog"
	"nftmarket/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("marketd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.Setup("marketd", cfg.Environment, level)

	gwCfg, err := gatewayconfig.Load(cfg.GatewayConfig)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	if err := gwCfg.Validate(cfg.Environment); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: gwCfg.Observability.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    gwCfg.Observability.OTLPEndpoint,
		Insecure:    gwCfg.Observability.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(gwCfg.Observability.OTLPHeaders),
		Metrics:     gwCfg.Observability.OTLPMetrics,
		Traces:      gwCfg.Observability.Tracing,
		SampleRatio: gwCfg.Observability.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	market, err := marketplace.ParseAddress(cfg.MarketplaceAddress)
	if err != nil {
		return fmt.Errorf("marketplace address: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	registry := nft.NewRegistry(manager)
	ledger := bank.NewLedger(manager, market, cfg.SettlementToken)

	seeded, err := applyGenesis(manager, ledger, registry, market, cfg.Genesis)
	if err != nil {
		return err
	}
	if seeded {
		logger.Info("genesis applied",
			"balances", len(cfg.Genesis.Balances),
			"assets", len(cfg.Genesis.Assets))
	}

	eventLog, err := eventlog.Open(cfg.EventLogPath, logger.With("component", "eventlog"))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer eventLog.Close()

	engine := marketplace.NewEngine(market)
	engine.SetState(manager)
	engine.SetRegistry(nft.NewMarketplaceView(registry, market))
	engine.SetFunds(ledger)
	engine.SetSettlementToken(cfg.SettlementToken)
	engine.SetPauses(common.AnyPaused{common.NewStaticPauses(cfg.PausedModules), manager})
	engine.SetEmitter(events.Fanout{eventLog, observability.EventCounter{}})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var replay *gatewayauth.LevelDBReplayStore
	if gwCfg.Auth.Enabled && gwCfg.Auth.ReplayStore != "" {
		replay, err = gatewayauth.NewLevelDBReplayStore(gwCfg.Auth.ReplayStore)
		if err != nil {
			return err
		}
		defer replay.Close()
		go replay.Run(ctx, time.Minute, func(err error) {
			logger.Warn("replay store prune failed", "error", err)
		})
	}

	handler, err := buildHandler(gwCfg, engine, registry, eventLog, replay, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         gwCfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  gwCfg.ReadTimeout,
		WriteTimeout: gwCfg.WriteTimeout,
		IdleTimeout:  gwCfg.IdleTimeout,
	}

	listener, err := net.Listen("tcp", gwCfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("marketplace gateway listening",
			"addr", listener.Addr().String(),
			"marketplace", cfg.MarketplaceAddress,
			"token", cfg.SettlementToken,
			"auth", gwCfg.Auth.Enabled)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(gwCfg))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	logger.Info("marketplace gateway stopped")
	return nil
}

func buildHandler(cfg gatewayconfig.Config, engine *marketplace.Engine, registry *nft.Registry, eventLog *eventlog.Store, replay *gatewayauth.LevelDBReplayStore, logger *slog.Logger) (http.Handler, error) {
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Metrics:       cfg.Observability.Metrics,
		Tracing:       cfg.Observability.Tracing,
	}, logger)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ScopeClaim: cfg.Auth.ScopeClaim,
		ClockSkew:  cfg.Auth.ClockSkew,
	}, logger)
	if replay != nil {
		auth.SetReplayGuard(replay)
	}
	if !cfg.Auth.Enabled {
		logger.Warn("gateway authentication disabled; callers are taken from the X-Caller header")
	}

	rateLimits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, entry := range cfg.RateLimits {
		rateLimits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			RatePerSecond:     entry.RatePerSecond,
			Burst:             entry.Burst,
		}
	}
	if len(rateLimits) == 0 {
		rateLimits[routes.RateLimitReads] = middleware.RateLimit{RatePerSecond: 20, Burst: 100}
		rateLimits[routes.RateLimitWrites] = middleware.RateLimit{RatePerSecond: 2, Burst: 20}
	}

	var writeScopes []string
	if cfg.Auth.WriteScope != "" {
		writeScopes = append(writeScopes, cfg.Auth.WriteScope)
	}

	router, err := routes.New(routes.Config{
		Engine:        engine,
		Events:        eventLog,
		Registry:      registry,
		Authenticator: auth,
		WriteScopes:   writeScopes,
		RateLimiter:   middleware.NewRateLimiter(rateLimits, logger),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure routes: %w", err)
	}
	if cfg.Observability.Tracing {
		return otelhttp.NewHandler(router, "marketd"), nil
	}
	return router, nil
}

func shutdownTimeout(cfg gatewayconfig.Config) time.Duration {
	if cfg.ShutdownTimeout > 0 {
		return cfg.ShutdownTimeout
	}
	return 10 * time.Second
}
