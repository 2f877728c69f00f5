package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"payhub/config"
	httpHandler "payhub/internal/adapter/http/handler"
	pgStorage "payhub/internal/adapter/storage/postgres"
	redisStorage "payhub/internal/adapter/storage/redis"
	"payhub/internal/core/ports"
	"payhub/internal/service"
	"payhub/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting PayHub")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	paymentRepo := pgStorage.NewPaymentRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)
	eventRepo := pgStorage.NewWebhookEventRepo(pool)
	deliveryRepo := pgStorage.NewWebhookDeliveryRepo(pool)
	reconRepo := pgStorage.NewReconciliationRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	responseCache := redisStorage.NewResponseCache(rdb)
	sweepLock := redisStorage.NewSweepLock(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(auditRepo, log)

	// Initialize business services
	ledger := service.NewIdempotencyLedger(
		idempotencyRepo,
		responseCache,
		transactor,
		cfg.Idempotency.LockTTL,
		cfg.Idempotency.CacheTTL,
		log,
	)
	gateway := service.NewStubGateway(cfg.Gateway.Mode, cfg.Gateway.DeclineSuffix, log)
	paymentSvc := service.NewPaymentService(
		paymentRepo,
		ledger,
		gateway,
		transactor,
		auditSvc,
		cfg.Payment.SupportedCurrencies,
		log,
	)
	webhookSvc := service.NewWebhookDispatcher(
		eventRepo,
		deliveryRepo,
		paymentRepo,
		sigSvc,
		transactor,
		auditSvc,
		cfg.Webhook.Secret,
		cfg.Webhook.MaxAttempts,
		cfg.Webhook.BaseDelay,
		cfg.Webhook.MaxDelay,
		log,
	)
	retrySvc := service.NewRetryScheduler(
		deliveryRepo,
		sweepLock,
		sigSvc,
		auditSvc,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		service.RetrySchedulerConfig{
			DestinationURL: cfg.Webhook.DestinationURL,
			Secret:         cfg.Webhook.Secret,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			BaseDelay:      cfg.Webhook.BaseDelay,
			MaxDelay:       cfg.Webhook.MaxDelay,
			BatchSize:      cfg.Webhook.RetryBatchSize,
			LeaseTTL:       cfg.Retry.LeaseTTL,
		},
		log,
	)
	reconSvc := service.NewReconciliationMatcher(reconRepo, paymentRepo, auditSvc, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc:     paymentSvc,
		WebhookSvc:     webhookSvc,
		RetrySvc:       retrySvc,
		ReconSvc:       reconSvc,
		TokenSvc:       tokenSvc,
		HashSvc:        hashSvc,
		UploadKeyHash:  cfg.API.UploadKeyHash,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		AuditSvc:       auditSvc,
		Logger:         log,
	})

	// Background workers: periodic retry sweeps and reconciliation runs.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Retry.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				result, err := retrySvc.RunOnce(workerCtx)
				if err != nil {
					log.Error().Err(err).Msg("retry sweep failed")
					continue
				}
				if result.Processed > 0 {
					log.Info().
						Int("processed", result.Processed).
						Int("succeeded", result.Succeeded).
						Int("failed", result.Failed).
						Int("abandoned", result.Abandoned).
						Msg("retry sweep completed")
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Reconciliation.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				summary, err := reconSvc.Match(workerCtx)
				if err != nil {
					log.Error().Err(err).Msg("reconciliation run failed")
					continue
				}
				if summary.Total > 0 {
					log.Info().
						Int("total", summary.Total).
						Int("matched", summary.Matched).
						Int("disputed", summary.Disputed).
						Float64("match_rate", summary.MatchRate).
						Msg("reconciliation run completed")
				}
			}
		}
	}()

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	stopWorkers()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
