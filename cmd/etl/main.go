package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/tide-data-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/tide-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/tide-data-etl/internal/adapter/nyhops"
	"github.com/couchcryptid/tide-data-etl/internal/adapter/store"
	"github.com/couchcryptid/tide-data-etl/internal/adapter/usgs"
	"github.com/couchcryptid/tide-data-etl/internal/config"
	"github.com/couchcryptid/tide-data-etl/internal/observability"
	"github.com/couchcryptid/tide-data-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	multi := len(cfg.Sites) > 1
	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Sites))
	var closers []io.Closer

	for _, site := range cfg.Sites {
		samples := usgs.New(usgs.Config{
			BaseURL:    cfg.USGSBaseURL,
			Site:       site.Site,
			Parameters: site.Parameters,
			Chunk:      cfg.Chunk,
			Pause:      cfg.FetchPause,
			Timeout:    cfg.USGSTimeout,
			UserAgent:  cfg.UserAgent,
		}, clock, logger)

		indexPath, forecastPath := artifactPaths(cfg.DataDir, site.Site, multi)
		fileStore := store.NewFileStore(indexPath, forecastPath)

		var indexStore pipeline.IndexStore = fileStore
		if cfg.StoreBackend == "sqlite" {
			s, err := store.NewSQLiteStore(cfg.SQLitePath, site.Site)
			if err != nil {
				logger.Error("failed to open sqlite store", "site", site.Site, "error", err)
				os.Exit(1)
			}
			closers = append(closers, s)
			indexStore = s
		}

		// Forecast mirroring is per station; sites without one skip the leg.
		var forecastSource pipeline.ForecastSource
		var forecastStore pipeline.ForecastStore
		if cfg.NYHOPSEnabled && site.NYHOPSStation != "" {
			forecastSource = nyhops.New(nyhops.Config{
				BaseURL:   cfg.NYHOPSBaseURL,
				Station:   site.NYHOPSStation,
				Timeout:   cfg.NYHOPSTimeout,
				UserAgent: cfg.UserAgent,
			}, logger)
			forecastStore = fileStore
		}

		// Peak publishing is feature-flagged via KAFKA_ENABLED.
		var publisher pipeline.PeakPublisher
		if cfg.KafkaEnabled {
			pub := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, site.Site, site.ThresholdFt, logger)
			closers = append(closers, pub)
			publisher = pub
		}

		pipelines = append(pipelines, pipeline.New(pipeline.Settings{
			Site:              site.Site,
			ThresholdFt:       site.ThresholdFt,
			Lookback:          site.Lookback,
			BackfillStart:     site.BackfillTime(),
			MaxForecastPoints: cfg.MaxForecastPoints,
		}, pipeline.Deps{
			Samples:       samples,
			Forecast:      forecastSource,
			Store:         indexStore,
			ForecastStore: forecastStore,
			Publisher:     publisher,
			Clock:         clock,
			Logger:        logger,
			Metrics:       metrics,
		}))
	}

	group := pipeline.NewGroup(pipelines...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, group, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run the site pipelines. With RUN_INTERVAL unset this is a single
	// pass per invocation; otherwise it loops until a signal arrives.
	logger.Info("starting pipelines", "sites", len(pipelines), "interval", cfg.RunInterval)
	runFailed := false
	if err := group.Run(ctx, cfg.RunInterval); err != nil {
		logger.Error("pipeline error", "error", err)
		runFailed = true
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if runFailed {
		os.Exit(1)
	}
}

// artifactPaths returns where one site's JSON artifacts live. A single
// configured site keeps the original flat filenames; multi-site
// deployments get per-site files in the same directory.
func artifactPaths(dataDir, site string, multi bool) (indexPath, forecastPath string) {
	if !multi {
		return filepath.Join(dataDir, "high_tides_index.json"),
			filepath.Join(dataDir, "nyhops_forecast.json")
	}
	return filepath.Join(dataDir, "high_tides_index_"+site+".json"),
		filepath.Join(dataDir, "nyhops_forecast_"+site+".json")
}
