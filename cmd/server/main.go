package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"LeadPulse/internal/api"
	"LeadPulse/internal/broadcast"
	"LeadPulse/internal/config"
	"LeadPulse/internal/csvparser"
	"LeadPulse/internal/db"
	"LeadPulse/internal/email"
	"LeadPulse/internal/metrics"
	"LeadPulse/internal/queue"
	"LeadPulse/internal/verification"
	"LeadPulse/internal/worker"
)

type mailStore interface {
	verification.Store
	queue.Store
	broadcast.SubscriberSource
}

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Storage + Email Settings
	// ------------------------------------------------
	var (
		store    mailStore
		settings config.SettingsSource
	)

	switch cfg.StoreDriver {
	case "memory":
		mem := db.NewMemoryStore()
		if cfg.SubscribersCSV != "" {
			subs, err := csvparser.LoadSubscribers(cfg.SubscribersCSV)
			if err != nil {
				logger.Fatal("failed to load subscribers", zap.String("path", cfg.SubscribersCSV), zap.Error(err))
			}
			mem.AddSubscribers(subs...)
			logger.Info("subscribers loaded", zap.Int("count", len(subs)))
		}
		store = mem
		settings = config.Static(cfg.Email)

	default:
		pg, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pg.Close()

		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		store = pg
		settings = &db.SettingsSource{Store: pg, Fallback: cfg.Email}
	}

	logger.Info("storage ready", zap.String("driver", cfg.StoreDriver))

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Mail Services
	// ------------------------------------------------
	dispatcher := email.NewDispatcher(logger)

	sendQueue := queue.New(store, dispatcher, settings, logger)
	sendQueue.RetryPolicy = backoff.NewConstantBackOff(cfg.RetryAfter)
	sendQueue.SendInterval = cfg.SendInterval

	issuer := &verification.Issuer{
		Store:    store,
		Sender:   dispatcher,
		Settings: settings,
		SiteName: cfg.SiteName,
		Log:      logger,
	}

	broadcaster := &broadcast.Broadcaster{
		Subscribers:  store,
		Sender:       dispatcher,
		Settings:     settings,
		Queue:        sendQueue,
		SiteName:     cfg.SiteName,
		Log:          logger,
		SendInterval: cfg.SendInterval,
	}

	// ------------------------------------------------
	// Worker Pool + Sweeper
	// ------------------------------------------------
	pool := worker.NewPool(cfg.TaskQueueSize, logger)
	pool.Start(ctx, cfg.WorkerCount)

	go pool.RunSweeper(ctx, sendQueue, cfg.SweepInterval)

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is empty, admin queue endpoints are disabled")
	}

	apiHandler := api.NewHandler(api.Handler{
		Issuer:      issuer,
		Queue:       sendQueue,
		Broadcaster: broadcaster,
		Tasks:       pool,
		SiteName:    cfg.SiteName,
		AdminToken:  cfg.AdminToken,
		Log:         logger,
	})

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before the pool stops accepting tasks.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Paced sweeps and broadcasts were interrupted by ctx; whatever they did
	// not send stays pending or failed for the next start.
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Error("worker pool did not drain", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
