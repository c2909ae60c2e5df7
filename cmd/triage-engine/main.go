package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracelens/triage-engine/internal/api"
	"github.com/tracelens/triage-engine/internal/cache"
	"github.com/tracelens/triage-engine/internal/config"
	"github.com/tracelens/triage-engine/internal/engine"
	"github.com/tracelens/triage-engine/internal/incident"
	"github.com/tracelens/triage-engine/internal/llm"
	"github.com/tracelens/triage-engine/internal/metrics"
	"github.com/tracelens/triage-engine/internal/notifier"
	"github.com/tracelens/triage-engine/internal/utils"
	"github.com/tracelens/triage-engine/internal/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "triage-engine:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting triage engine",
		"http_addr", cfg.Server.Address,
		"metrics_addr", cfg.Server.MetricsAddress)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	logs, err := warehouse.NewStore(cfg.Warehouse.Path, cfg.Warehouse.QueryTimeout)
	if err != nil {
		return err
	}
	defer logs.Close()

	incidentStore, err := incident.NewStore(cfg.Incidents.Path)
	if err != nil {
		return err
	}
	defer incidentStore.Close()
	incidents := incident.NewManager(incidentStore, logger)

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
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
			logger.Warn("valkey unavailable, continuing without evidence cache", "error", err)
		} else {
			cacheProvider = provider
			logger.Info("evidence cache enabled", "addr", cfg.Cache.Addr)
		}
	}
	defer cacheProvider.Close()

	publisher := notifier.NewWebhookPublisher(cfg.Notifier.URL, cfg.Notifier.Timeout, logger)
	generator := llm.NewClient(llm.Options{
		BaseURL:         cfg.Model.BaseURL,
		APIKey:          cfg.Model.APIKey,
		Model:           cfg.Model.Model,
		Temperature:     cfg.Model.Temperature,
		TopP:            cfg.Model.TopP,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
		Timeout:         cfg.Model.Timeout,
	}, logger)

	detector := engine.NewDetector(logs, cfg.Detection, logger)
	runner := engine.NewRunner(detector, incidents, publisher, logger)
	analyzer := engine.NewAnalyzer(incidents, logs, generator, cacheProvider, cfg.Cache.EvidenceTTL, logger)

	handlers := api.NewHandlers(logs, runner, analyzer, incidents, logs, logger)
	server := api.NewServer(cfg.Server.Address, handlers, logger)

	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()
	go func() {
		logger.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	if cfg.Detection.Interval > 0 {
		go runner.RunPeriodically(ctx, cfg.Detection.Interval)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}
	logger.Info("triage engine stopped")
	return nil
}
