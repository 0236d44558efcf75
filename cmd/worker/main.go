package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/rendition/internal/config"
	"github.com/dunamismax/rendition/internal/domain"
	"github.com/dunamismax/rendition/internal/logging"
	"github.com/dunamismax/rendition/internal/pipeline"
	"github.com/dunamismax/rendition/internal/queue"
	"github.com/dunamismax/rendition/internal/storage"
	"github.com/dunamismax/rendition/internal/telemetry"
	"github.com/dunamismax/rendition/internal/webhook"
	"github.com/dunamismax/rendition/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New("worker", cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "rendition-worker", cfg.Trace, logger)
	if err != nil {
		logger.Fatal("tracing setup failed", "err", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown failed", "err", err)
		}
	}()

	reporter, flushSentry, err := telemetry.SetupSentry("rendition-worker", cfg.Sentry, logger)
	if err != nil {
		logger.Fatal("sentry setup failed", "err", err)
	}
	defer flushSentry()

	if err := pipeline.Startup(); err != nil {
		logger.Fatal("image runtime startup failed", "err", err)
	}
	defer pipeline.Shutdown()

	catalog, err := domain.LoadCatalog(cfg.Renditions.CatalogFile)
	if err != nil {
		logger.Fatal("load rendition catalog failed", "err", err)
	}
	mapper, err := pipeline.NewLocationMapper(cfg.Destination.TokenFrom, cfg.Destination.TokenTo)
	if err != nil {
		logger.Fatal("invalid destination mapping", "err", err)
	}

	store, err := storage.Open(ctx, storage.Config{
		Backend:   cfg.Storage.Backend,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Access:    cfg.Storage.AccessKey,
		Secret:    cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		PathStyle: cfg.Storage.PathStyle,
	})
	if err != nil {
		logger.Fatal("storage setup failed", "err", err)
	}
	destBucket, err := mapper.Resolve(cfg.Storage.SourceBucket)
	if err != nil {
		logger.Fatal("source bucket has no destination", "bucket", cfg.Storage.SourceBucket, "err", err)
	}
	if cfg.Storage.EnsureBuckets {
		if err := storage.EnsureBuckets(ctx, store, cfg.Storage.SourceBucket, destBucket); err != nil {
			logger.Fatal("bucket setup failed", "err", err)
		}
	}

	processor, err := pipeline.NewProcessor(pipeline.Options{
		Fetcher:              pipeline.ObjectStoreFetcher{Store: store},
		Publisher:            pipeline.ObjectStorePublisher{Store: store},
		Catalog:              catalog,
		Destination:          mapper,
		RenditionConcurrency: cfg.Renditions.Concurrency,
		SourceConcurrency:    cfg.Worker.SourceConcurrency,
		Logger:               logger.WithPrefix("pipeline"),
	})
	if err != nil {
		logger.Fatal("initialize pipeline processor failed", "err", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Worker.TaskTimeout)
	defer queueClient.Close()

	srv, err := worker.NewServer(worker.Options{
		Logger:    logger,
		Queue:     cfg.Queue,
		Worker:    cfg.Worker,
		Processor: processor,
		Retries:   queueClient,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.Secret,
			Timeout:       cfg.Webhook.Timeout,
			MaxAttempts:   3,
		}),
		WebhookURL: cfg.Webhook.URL,
		Reporter:   reporter,
	})
	if err != nil {
		logger.Fatal("worker setup failed", "err", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer metricsServer.Close()
	}

	logger.Info("starting worker",
		"concurrency", cfg.Worker.Concurrency,
		"max_active_runs", cfg.Worker.MaxActiveRuns,
		"max_attempts", cfg.Worker.MaxAttempts,
		"renditions", catalog.Labels(),
		"queue", cfg.Queue.Name,
		"redis", cfg.Queue.RedisAddr,
	)
	if err := srv.Run(); err != nil {
		logger.Error("worker failed", "err", err)
	}
}
