// Package main provides the DeFiGuard server: scan worker, dispatcher and HTTP API in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/defiguard/internal/adapter"
	"github.com/defiguard/internal/api"
	"github.com/defiguard/internal/chain"
	"github.com/defiguard/internal/circuitbreaker"
	"github.com/defiguard/internal/config"
	"github.com/defiguard/internal/dispatcher"
	"github.com/defiguard/internal/knowledge"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/pricing"
	"github.com/defiguard/internal/ratelimit"
	"github.com/defiguard/internal/retry"
	"github.com/defiguard/internal/risk"
	"github.com/defiguard/internal/service"
	"github.com/defiguard/internal/storage"
	"github.com/defiguard/internal/worker"
)

const clickHouseMigrations = "migrations/clickhouse"

// lateTrigger lets the dispatcher be built before the worker it triggers
type lateTrigger struct{ w *worker.ScanWorker }

func (t *lateTrigger) Trigger(userID string) {
	if t.w != nil {
		t.w.Trigger(userID)
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	registry, err := chain.DefaultRegistry().WithOverrides(cfg.Chains.RPCOverrides)
	if err != nil {
		logger.WithError(err).Fatal("Invalid chain configuration")
	}
	logger.WithField("chains", registry.Keys()).Info("Chain registry loaded")

	// Redis serves both storage and knowledge; either may run without it.
	var redisClient *redis.Client
	if cfg.Storage.Backend == "redis" || cfg.Knowledge.Backend == "redis" {
		redisClient, err = storage.NewRedisClient(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable")
		} else {
			defer redisClient.Close()
		}
	}

	kv, storageMode, closeStore := openStore(ctx, cfg, redisClient)
	defer closeStore()
	portfolios := storage.NewPortfolioRepository(kv)
	alerts := storage.NewAlertRepository(kv)
	sessions := storage.NewSessionRepository(kv)

	kb, kbMode := openKnowledge(ctx, cfg, redisClient)
	engine := risk.NewEngine(kb)

	providerLimiter := ratelimit.NewProviderLimiter(cfg.Scan.ProviderSpacing)
	prices := pricing.NewPriceCache(
		pricing.NewCoinGeckoClient(cfg.Pricing.BaseURL, cfg.Pricing.APIKey, cfg.Pricing.RequestTimeout, providerLimiter),
		pricing.CacheConfig{
			TTL: cfg.Pricing.TTL,
			Retry: &retry.RetryConfig{
				MaxAttempts:  cfg.Pricing.MaxAttempts,
				InitialDelay: cfg.Pricing.InitialBackoff,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
			},
		},
	)

	pool := adapter.NewEndpointPool(adapter.EndpointPoolConfig{
		ProbeTimeout: cfg.Scan.ProbeTimeout,
		Limiter:      providerLimiter,
	})
	defer pool.Close()

	scanner, err := adapter.NewEVMScanner(adapter.EVMScannerConfig{
		Registry:      registry,
		Pool:          pool,
		Prices:        prices,
		Limiter:       providerLimiter,
		CallTimeout:   cfg.Scan.CallTimeout,
		DustThreshold: decimal.NewFromFloat(cfg.Scan.DustThreshold),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create chain scanner")
	}
	coordinator := service.NewScanCoordinator(scanner, service.ScanCoordinatorConfig{
		Concurrency: cfg.Scan.Concurrency,
		Budget:      cfg.Scan.Budget,
	})

	hub := api.NewHub(cfg.Server.MessageHistory)
	trigger := &lateTrigger{}
	d := dispatcher.New(dispatcher.Config{
		Registry:   registry,
		Portfolios: portfolios,
		Alerts:     alerts,
		Sessions:   sessions,
		Outbox:     hub,
		Trigger:    trigger,
	})

	pipelineCfg := worker.PipelineConfig{
		Scanner:        coordinator,
		Evaluator:      engine,
		Alerts:         d,
		Market:         pricing.NewMovementWatcher(prices, cfg.Scan.MarketMoveThreshold),
		MarketAlerts:   d,
		NoiseThreshold: cfg.Scan.NoiseThreshold,
	}
	if archive, closeArchive := openArchive(ctx, cfg); archive != nil {
		defer closeArchive()
		pipelineCfg.Archive = archive
	}

	scanWorker, err := worker.NewScanWorker(worker.ScanWorkerConfig{
		Processor:     worker.NewPipeline(pipelineCfg),
		Portfolios:    portfolios,
		Interval:      cfg.Scan.Interval,
		BatchSize:     cfg.Scan.BatchSize,
		Spacing:       cfg.Scan.PortfolioSpacing,
		SlowThreshold: cfg.Scan.Budget,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scan worker")
	}
	trigger.w = scanWorker

	server, err := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		EventsPerSecond: cfg.Server.EventsPerSecond,
		EventBurst:      cfg.Server.EventBurst,
	}, api.Deps{
		Dispatcher:    d,
		Hub:           hub,
		Portfolios:    portfolios,
		Alerts:        alerts,
		Sessions:      sessions,
		Worker:        scanWorker,
		KnowledgeMode: string(kbMode),
		StorageMode:   storageMode,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create API server")
	}

	if err := scanWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scan worker")
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":      cfg.Server.Host,
		"port":      cfg.Server.Port,
		"storage":   storageMode,
		"knowledge": kbMode,
	}).Info("DeFiGuard started")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.WithError(err).Error("API server failed")
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := scanWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Scan worker did not stop cleanly")
	}
	logger.Info("Server exited")
}

// openStore builds the tiered store over the configured durable backend
func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (*storage.TieredStore, string, func()) {
	logger := logging.FromContext(ctx)
	noop := func() {}

	var durable storage.KVStore
	closeFn := noop
	switch cfg.Storage.Backend {
	case "redis":
		if redisClient != nil {
			durable = storage.NewRedisStore(redisClient)
		}
	case "postgres":
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Warn("Postgres unavailable")
			break
		}
		durable = storage.NewPostgresStore(db)
		closeFn = db.Close
	}

	store := storage.NewTieredStore(ctx, durable)
	if store.MemoryOnly() {
		if cfg.Storage.Backend != "memory" {
			logger.WithField("backend", cfg.Storage.Backend).Warn("Running with in-memory storage only, data will not survive a restart")
		}
		return store, "memory", closeFn
	}
	return store, cfg.Storage.Backend, closeFn
}

// openKnowledge seeds the Redis knowledge base when needed and selects the lookup source
func openKnowledge(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (knowledge.KnowledgeBase, knowledge.Mode) {
	fallback := knowledge.NewFallbackTable()
	if cfg.Knowledge.Backend != "redis" || redisClient == nil {
		return knowledge.Select(ctx, nil, fallback, nil)
	}

	logger := logging.FromContext(ctx)
	backend := knowledge.NewRedisBackend(redisClient)

	facts := knowledge.DefaultFacts()
	seed := false
	if cfg.Knowledge.SeedFile != "" {
		loaded, err := knowledge.LoadFacts(cfg.Knowledge.SeedFile)
		if err != nil {
			logger.WithError(err).Warn("Ignoring knowledge seed file")
		} else {
			facts, seed = loaded, true
		}
	}
	if !seed && backend.Ping(ctx) != nil {
		seed = true
	}
	if seed {
		if err := backend.Seed(ctx, facts); err != nil {
			logger.WithError(err).Warn("Failed to seed knowledge base")
		}
	}

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("knowledge"))
	return knowledge.Select(ctx, backend, fallback, breaker)
}

// openArchive connects the optional ClickHouse snapshot archive
func openArchive(ctx context.Context, cfg *config.Config) (*storage.SnapshotArchive, func()) {
	if cfg.Database.ClickHouse.Host == "" {
		return nil, nil
	}
	logger := logging.FromContext(ctx)

	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Warn("ClickHouse unavailable, snapshot archive disabled")
		return nil, nil
	}
	if err := storage.RunClickHouseMigrations(ctx, db, clickHouseMigrations); err != nil {
		logger.WithError(err).Warn("ClickHouse migrations failed, snapshot archive disabled")
		_ = db.Close()
		return nil, nil
	}
	return storage.NewSnapshotArchive(db), func() { _ = db.Close() }
}
