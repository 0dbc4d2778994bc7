// Command relayd is the composition root: it wires the Proxy Pool,
// Account Registry, Session Manager, Upstream Drivers, health monitor,
// circuit breaker, concurrency manager, metrics collector, admin auth,
// Request Orchestrator, and the HTTP server together, then serves until
// an interrupt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"claude-relay/internal/account"
	"claude-relay/internal/adminauth"
	"claude-relay/internal/circuit"
	"claude-relay/internal/concurrency"
	"claude-relay/internal/config"
	"claude-relay/internal/driver"
	"claude-relay/internal/health"
	"claude-relay/internal/logging"
	"claude-relay/internal/metrics"
	"claude-relay/internal/orchestrator"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/server"
	"claude-relay/internal/session"
	"claude-relay/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.json (default: ./config.json or ./config/config.json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logging isn't initialized yet; this is a startup-time failure
		// before the multi-writer is wired.
		println("failed to load configuration:", err.Error())
		os.Exit(1)
	}

	logCloser, err := logging.Init(logging.Options{LogFilePath: "relayd.log", Debug: false})
	if err != nil {
		println("failed to open log file:", err.Error())
		os.Exit(1)
	}
	defer logCloser.Close()

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("JWT secret is required (set CLAUDE_RELAY_JWT_SECRET)")
	}
	if cfg.Admin.Key == "" {
		log.Fatal().Msg("admin key is required (set CLAUDE_RELAY_ADMIN_KEY)")
	}

	db, err := store.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize enrichment store")
	}
	defer db.Close()

	registry, err := account.New(cfg.Storage.AccountsPath, cfg.PerAccountSessionCap)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load account registry")
	}
	log.Info().Int("accounts", len(registry.List())).Msg("loaded account registry")

	proxySettings := proxypool.Settings{
		Mode:             proxypool.Mode(cfg.Proxy.Mode),
		FixedURL:         cfg.Proxy.FixedURL,
		RotationStrategy: proxypool.Strategy(cfg.Proxy.RotationStrategy),
		RotationInterval: time.Duration(cfg.Proxy.RotationIntervalSeconds) * time.Second,
		CooldownDuration: time.Duration(cfg.Proxy.CooldownDurationSeconds) * time.Second,
		FallbackStrategy: proxypool.Strategy(cfg.Proxy.FallbackStrategy),
	}
	proxiesText, err := os.ReadFile(cfg.Storage.ProxiesPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal().Err(err).Msg("failed to read proxies file")
	}
	proxies, err := proxypool.New(proxySettings, string(proxiesText))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize proxy pool")
	}
	defer proxies.Close()
	log.Info().Str("mode", cfg.Proxy.Mode).Msg("initialized proxy pool")

	sessions := session.New(registry, proxies, cfg.SessionTTL)
	defer sessions.Close()

	oauthDriver := driver.NewOAuthDriver(cfg.Claude.APIURL, cfg.Claude.OAuthClientID, cfg.Claude.OAuthTokenURL, registry)
	webDriver := driver.NewWebDriver(cfg.Claude.WebURL, registry, sessions)
	sessions.SetConversationDeleter(webDriver)
	sessions.SetWebSearchSetter(webDriver)

	healthMonitor := health.NewMonitor(oauthDriver, webDriver, proxies, cfg.Health.Timeout)
	registry.SetProber(healthMonitor)

	circuitMgr := circuit.NewManager(circuit.DefaultBreakerConfig())
	defer circuitMgr.Close()

	concurrencyCfg := concurrency.DefaultConcurrencyConfig()
	if cfg.Concurrency.MaxConcurrentRequests > 0 {
		concurrencyCfg.GlobalMax = cfg.Concurrency.MaxConcurrentRequests
	}
	concurrencyMgr := concurrency.NewManager(concurrencyCfg)
	defer concurrencyMgr.Close()
	log.Info().Int("global_max", concurrencyCfg.GlobalMax).Msg("initialized concurrency manager")

	var metricsCollector *metrics.Collector
	if cfg.Metrics.Enabled {
		metricsCollector = metrics.New(metrics.Config{Enabled: true, Path: cfg.Metrics.Path})
		log.Info().Str("path", cfg.Metrics.Path).Msg("initialized metrics")
	}

	adminMgr := adminauth.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.OverloadRetryAttempts = cfg.Retry.OverloadRetryAttempts
	orchCfg.OverloadCooldown = time.Duration(cfg.Retry.OverloadCooldownSeconds) * time.Second
	orch := orchestrator.New(registry, proxies, sessions, oauthDriver, webDriver, circuitMgr, orchCfg)

	if cfg.Health.Enabled {
		go runHealthLoop(context.Background(), registry, cfg.Health.CheckInterval)
	}

	srv := server.New(server.Config{
		Orchestrator: orch,
		Registry:     registry,
		Proxies:      proxies,
		Circuit:      circuitMgr,
		Concurrency:  concurrencyMgr,
		Metrics:      metricsCollector,
		Admin:        adminMgr,
		AdminKey:     cfg.Admin.Key,
		Store:        db,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("starting relayd")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down relayd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("relayd stopped")
}

// runHealthLoop periodically refreshes every account's status via the
// two-phase probe, spreading the batch across a small worker cap rather
// than firing every account concurrently.
func runHealthLoop(ctx context.Context, registry *account.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := make([]string, 0)
			for _, a := range registry.List() {
				ids = append(ids, a.ID)
			}
			results := registry.BatchRefresh(ctx, ids, 5)
			for id, err := range results {
				if err != nil {
					log.Warn().Str("account_id", id).Err(err).Msg("health refresh failed")
				}
			}
		}
	}
}
