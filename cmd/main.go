package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/starpay-service/starpay_service/internal/api/handlers"
	"github.com/starpay-service/starpay_service/internal/api/middleware"
	"github.com/starpay-service/starpay_service/internal/api/routes"
	"github.com/starpay-service/starpay_service/internal/chainclients/evm"
	"github.com/starpay-service/starpay_service/internal/chainclients/solana"
	"github.com/starpay-service/starpay_service/internal/chainclients/tron"
	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/credit"
	"github.com/starpay-service/starpay_service/internal/domain/services/deposits"
	"github.com/starpay-service/starpay_service/internal/domain/services/fraud"
	"github.com/starpay-service/starpay_service/internal/domain/services/ingest"
	"github.com/starpay-service/starpay_service/internal/domain/services/matcher"
	"github.com/starpay-service/starpay_service/internal/domain/services/normalizer"
	"github.com/starpay-service/starpay_service/internal/domain/services/notifier"
	"github.com/starpay-service/starpay_service/internal/domain/services/risk"
	"github.com/starpay-service/starpay_service/internal/domain/services/settings"
	"github.com/starpay-service/starpay_service/internal/domain/services/verify"
	"github.com/starpay-service/starpay_service/internal/infrastructure/cache"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/internal/infrastructure/database"
	"github.com/starpay-service/starpay_service/internal/infrastructure/repositories"
	"github.com/starpay-service/starpay_service/internal/watchers"
	"github.com/starpay-service/starpay_service/internal/workers/jobqueue"
	"github.com/starpay-service/starpay_service/internal/workers/scanners"
	"github.com/starpay-service/starpay_service/pkg/graceful"
	"github.com/starpay-service/starpay_service/pkg/idempotency"
	"github.com/starpay-service/starpay_service/pkg/logger"
	"github.com/starpay-service/starpay_service/pkg/metrics"
	"github.com/starpay-service/starpay_service/pkg/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	log.Info("Starting starpay deposit engine", "environment", cfg.Environment)

	// Infrastructure
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
			metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
			metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
		}
	}()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("Failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	// Repositories
	depositRepo := repositories.NewDepositRepository(db)
	auditRepo := repositories.NewWebhookAuditRepository(db)
	cursorRepo := repositories.NewCursorRepository(db)
	ledgerRepo := repositories.NewLedgerRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	alertRepo := repositories.NewFraudAlertRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	packageRepo := repositories.NewStarPackageRepository(db)
	userRepo := repositories.NewUserRepository(db)

	// Chain clients
	evmClients := make(map[entities.Chain]*evm.Client)
	var solanaClient *solana.Client
	var tronClient *tron.Client
	for name, network := range cfg.Chains.Networks {
		chain := entities.Chain(name)
		switch {
		case chain.IsEVM():
			client, err := evm.NewClient(network.RPC, chain)
			if err != nil {
				log.Fatal("Failed to dial chain RPC", "chain", chain, "error", err)
			}
			defer client.Close()
			evmClients[chain] = client
		case chain == entities.ChainSolana:
			solanaClient = solana.NewClient(network.RPC)
		case chain == entities.ChainTron:
			tronClient = tron.NewClient(network.RPC, os.Getenv("TRONGRID_API_KEY"))
		default:
			log.Warn("Ignoring unknown chain in configuration", "chain", name)
		}
	}

	// Domain services
	settingsSvc := settings.NewService(settingsRepo, 30*time.Second, log)
	alertNotifier := notifier.NewWebhookNotifier(
		cfg.Alerting.WebhookURL,
		time.Duration(cfg.Alerting.TimeoutSec)*time.Second,
		log,
	)
	normalizerSvc := normalizer.NewService(log)
	matcherSvc := matcher.NewService(depositRepo, settingsSvc, log)
	verifySvc := verify.NewService(
		depositRepo, settingsSvc, alertRepo, alertNotifier,
		evmClients, solanaClient, tronClient, cfg.Chains, log,
	)
	riskSvc := risk.NewService(redisClient, ledgerRepo, cfg.Risk, log)
	creditSvc := credit.NewService(
		db, depositRepo, ledgerRepo, userRepo, packageRepo,
		settingsSvc, riskSvc, log,
	)
	ingestSvc := ingest.NewService(
		auditRepo, normalizerSvc, matcherSvc, jobRepo,
		settingsSvc, cfg.Workers.MaxAttempts, log,
	)
	fraudSvc := fraud.NewService(
		depositRepo, auditRepo, cursorRepo, alertRepo, alertNotifier,
		cfg.Fraud, log,
	)
	depositSvc := deposits.NewService(
		depositRepo, ledgerRepo, packageRepo, jobRepo,
		cfg.Workers.MaxAttempts, log,
	)

	// Job queue
	poolCfg := jobqueue.DefaultConfig()
	poolCfg.PoolSize = cfg.Workers.PoolSize
	poolCfg.PollInterval = time.Duration(cfg.Workers.PollIntervalSec) * time.Second
	poolCfg.BatchSize = cfg.Workers.BatchSize
	pool := jobqueue.NewPool(jobRepo, poolCfg, log)
	jobqueue.NewHandlers(ingestSvc, verifySvc, creditSvc, log).RegisterAll(pool)

	scannerSvc := scanners.NewService(
		depositRepo, auditRepo, jobRepo, settingsSvc, fraudSvc,
		cfg.Workers, cfg.Fraud, log,
	)
	scannerSvc.RegisterHandlers(pool)
	pool.Start()

	if err := scannerSvc.Start(); err != nil {
		log.Fatal("Failed to start scan schedules", "error", err)
	}

	// Chain watchers
	var chainWatchers []watchers.Watcher
	for name, network := range cfg.Chains.Networks {
		chain := entities.Chain(name)
		switch {
		case chain.IsEVM():
			chainWatchers = append(chainWatchers, watchers.NewEVMWatcher(
				evmClients[chain], depositRepo, cursorRepo, matcherSvc, jobRepo,
				network, cfg.Workers.MaxAttempts, log,
			))
		case chain == entities.ChainSolana:
			chainWatchers = append(chainWatchers, watchers.NewSolanaWatcher(
				solanaClient, depositRepo, cursorRepo, matcherSvc, jobRepo,
				network, cfg.Workers.MaxAttempts, log,
			))
		case chain == entities.ChainTron:
			chainWatchers = append(chainWatchers, watchers.NewTronWatcher(
				tronClient, depositRepo, cursorRepo, matcherSvc, jobRepo,
				network, cfg.Workers.MaxAttempts, log,
			))
		}
	}
	watcherMgr := watchers.NewManager(chainWatchers, log)
	watcherMgr.Start()

	// HTTP server
	limiter := ratelimit.NewLimiter(redisClient, ratelimit.Config{
		Limit:  cfg.Server.RateLimit,
		Window: time.Duration(cfg.Server.RateLimitWindow) * time.Second,
	}, log)
	router := routes.Setup(routes.Handlers{
		Webhooks: handlers.NewWebhookHandlers(auditRepo, jobRepo, cfg.Providers.WebhookSecrets, cfg.Workers.MaxAttempts, log),
		Deposits: handlers.NewDepositHandlers(depositSvc, log),
		Health:   handlers.NewHealthHandlers(db, redisClient),
		Admin:    handlers.NewAdminHandlers(alertRepo, settingsSvc, log),
	}, routes.Guards{
		RateLimit:   middleware.RateLimit(limiter),
		Idempotency: idempotency.Middleware(redisClient, log),
	}, cfg.Environment, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	shutdown := graceful.NewManager(server, 30*time.Second, log)
	shutdown.Register("job_pool", pool.Shutdown)
	shutdown.Register("scanners", func(time.Duration) { scannerSvc.Stop() })
	shutdown.Register("watchers", watcherMgr.Shutdown)
	shutdown.Wait()

	log.Info("Engine exited gracefully")
}
