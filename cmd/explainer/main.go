package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/heat-risk-explainer/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/heat-risk-explainer/internal/adapter/kafka"
	"github.com/couchcryptid/heat-risk-explainer/internal/adapter/provider"
	"github.com/couchcryptid/heat-risk-explainer/internal/config"
	"github.com/couchcryptid/heat-risk-explainer/internal/model"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
	"github.com/couchcryptid/heat-risk-explainer/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	artifacts, err := model.Load(cfg.ModelBundlePath)
	if err != nil {
		logger.Error("failed to load model bundle", "path", cfg.ModelBundlePath, "error", err)
		os.Exit(1)
	}
	logger.Info("model bundle loaded", "model", artifacts.Name(), "features", len(artifacts.FeatureNames()))

	narrator, err := provider.NewNarrator(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to configure narrator", "error", err)
		os.Exit(1)
	}

	explainer := pipeline.New(artifacts, artifacts.Explainer(), narrator, pipeline.Options{
		Timeframe: cfg.DefaultTimeframe,
		TopN:      cfg.DefaultTopN,
		Workers:   cfg.AttributionWorkers,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, explainer, artifacts.Template(), explainer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start request stream (feature-flagged via STREAM_ENABLED).
	var reader *kafkaadapter.Reader
	var writer *kafkaadapter.Writer
	streamDone := make(chan struct{})
	if cfg.StreamEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		stream := pipeline.NewStream(reader, explainer, writer, logger, metrics, cfg.StreamBatchSize, cfg.StreamConcurrency)
		go func() {
			defer close(streamDone)
			if err := stream.Run(ctx); err != nil {
				logger.Error("stream error", "error", err)
			}
		}()
	} else {
		logger.Info("request stream disabled")
		close(streamDone)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	select {
	case <-streamDone:
	case <-shutdownCtx.Done():
		logger.Warn("stream did not stop before shutdown timeout")
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
