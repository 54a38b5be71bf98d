package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsestack/pulse-detect/internal/api"
	"github.com/pulsestack/pulse-detect/internal/cache"
	"github.com/pulsestack/pulse-detect/internal/config"
	"github.com/pulsestack/pulse-detect/internal/engine"
	"github.com/pulsestack/pulse-detect/internal/events"
	"github.com/pulsestack/pulse-detect/internal/lifecycle"
	"github.com/pulsestack/pulse-detect/internal/metrics"
	"github.com/pulsestack/pulse-detect/internal/repo"
	"github.com/pulsestack/pulse-detect/internal/scheduler"
	"github.com/pulsestack/pulse-detect/internal/services"
	"github.com/pulsestack/pulse-detect/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting pulse-detect", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var tracker engine.Tracker = engine.NewMemoryTracker()
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey unavailable, using in-memory cooldowns", slog.Any("error", err))
		} else {
			tracker = engine.NewCacheTracker(provider, cfg.Cache.KeyPrefix, logger)
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	coreClient := repo.NewPlatformCoreClient(
		cfg.Clients.Core.BaseURL,
		cfg.Clients.Core.SamplesPath,
		cfg.Clients.Core.TargetsPath,
		cfg.Clients.Core.IncidentsPath,
		cfg.Clients.Core.RecomputePath,
		cfg.Clients.Core.Timeout,
	)

	var publisher lifecycle.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled && cfg.Events.URL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.Events.URL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("nats unavailable, events disabled", slog.Any("error", err))
		} else {
			publisher = natsPublisher
			defer natsPublisher.Close()
		}
	}

	aggregator := engine.NewAggregator(cfg.Detection.LookbackSamples, cfg.Detection.ErrorRateWindow)
	ruleEngine := engine.NewRuleEngine(engine.DefaultCatalog(), tracker, logger)
	manager := lifecycle.NewManager(coreClient, publisher, coreClient, logger)
	service := services.NewDetectionService(
		logger,
		coreClient,
		aggregator,
		ruleEngine,
		manager,
		cfg.Detection.FetchLimit,
		cfg.Detection.ReporterID,
	)

	sweeper, err := scheduler.NewSweeper(cfg.Detection.Schedule, service, logger)
	if err != nil {
		logger.Error("invalid sweep schedule", slog.String("schedule", cfg.Detection.Schedule), slog.Any("error", err))
		os.Exit(1)
	}

	server := api.NewServer(cfg.Server, &api.Handler{Service: service, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	sweeper.Start()

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("pulse-detect stopped")
}
