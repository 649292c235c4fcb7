// Command firerisk runs the fire risk engine: it consumes observations from
// Kafka, maintains risk zones, raises subscriber alerts and serves the query
// API over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/couchcryptid/wildfire-risk-engine/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/wildfire-risk-engine/internal/adapter/kafka"
	"github.com/couchcryptid/wildfire-risk-engine/internal/adapter/mapbox"
	"github.com/couchcryptid/wildfire-risk-engine/internal/adapter/notifier"
	"github.com/couchcryptid/wildfire-risk-engine/internal/adapter/postgres"
	"github.com/couchcryptid/wildfire-risk-engine/internal/alert"
	"github.com/couchcryptid/wildfire-risk-engine/internal/config"
	"github.com/couchcryptid/wildfire-risk-engine/internal/engine"
	"github.com/couchcryptid/wildfire-risk-engine/internal/observability"
	"github.com/couchcryptid/wildfire-risk-engine/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := engine.Deps{
		AlertStore: alert.NewMemoryStore(),
		Directory:  alert.NewMemoryDirectory(),
		Logger:     logger,
		Metrics:    metrics,
	}

	// Region naming is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		deps.Geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		deps.ZoneStore = postgres.NewZoneStore(db)
		deps.AlertStore = postgres.NewAlertStore(db)
		logger.Info("postgres persistence enabled")
	}

	kafkaNotifier := kafkaadapter.NewNotifier(cfg, logger)
	deps.Notifier = notifier.NewResilient(kafkaNotifier,
		notifier.DefaultSettings("kafka-notify", cfg.NotifyRatePerSecond), metrics, logger)

	eng, err := engine.New(engine.ConfigFromService(cfg), deps)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Restore(ctx); err != nil {
		logger.Error("failed to restore zones", "error", err)
		os.Exit(1)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(eng, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize, pipeline.WithZoneFlusher(eng))

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, httpadapter.NewAPI(eng, logger), metrics, logger)

	var wg sync.WaitGroup

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start alert delivery workers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.RunDelivery(ctx); err != nil {
			logger.Error("alert delivery error", "error", err)
		}
	}()

	// Start observation pipeline.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	waitOrTimeout(shutdownCtx, &wg, logger)

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := kafkaNotifier.Close(); err != nil {
		logger.Error("kafka notifier close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// waitOrTimeout waits for the pipeline and delivery workers to stop, giving
// up when the shutdown deadline passes.
func waitOrTimeout(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown deadline reached before workers stopped")
	}
}
