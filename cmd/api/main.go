package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/rendition/internal/api"
	"github.com/dunamismax/rendition/internal/config"
	"github.com/dunamismax/rendition/internal/id"
	"github.com/dunamismax/rendition/internal/logging"
	"github.com/dunamismax/rendition/internal/queue"
	"github.com/dunamismax/rendition/internal/ratelimit"
	"github.com/dunamismax/rendition/internal/storage"
	"github.com/dunamismax/rendition/internal/telemetry"
	"github.com/dunamismax/rendition/internal/trigger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := logging.New("api", cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "rendition-api", cfg.Trace, logger)
	if err != nil {
		logger.Fatal("tracing setup failed", "err", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown failed", "err", err)
		}
	}()

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
	if cfg.Storage.EnsureBuckets {
		if err := storage.EnsureBuckets(ctx, store, cfg.Storage.SourceBucket); err != nil {
			logger.Fatal("source bucket setup failed", "err", err)
		}
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Worker.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Error("queue client close error", "err", err)
		}
	}()

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		rl, err := ratelimit.NewLimiter(redisClient, "rendition:ratelimit",
			ratelimit.Policy{Name: ratelimit.PolicyUpload, Rate: cfg.RateLimit.UploadRate, Burst: cfg.RateLimit.UploadBurst},
			ratelimit.Policy{Name: ratelimit.PolicyEvents, Rate: cfg.RateLimit.EventsRate, Burst: cfg.RateLimit.EventsBurst},
		)
		if err != nil {
			logger.Fatal("rate limiter setup failed", "err", err)
		}
		limiter = rl
	}

	if cfg.Trigger.Listen {
		mc, ok := store.(*storage.MinIOClient)
		if !ok {
			logger.Fatal("TRIGGER_LISTEN requires the minio storage backend")
		}
		listener := trigger.NewListener(trigger.Options{
			Source:   mc,
			Queue:    queueClient,
			Bucket:   cfg.Storage.SourceBucket,
			Prefix:   cfg.Trigger.Prefix,
			Suffix:   cfg.Trigger.Suffix,
			NewRunID: id.New,
			Logger:   logger.WithPrefix("trigger"),
		})
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error("trigger listener stopped", "err", err)
			}
		}()
	}

	app := api.NewServer(api.Options{
		Logger:       logger,
		Queue:        queueClient,
		Storage:      store,
		SourceBucket: cfg.Storage.SourceBucket,
		Upload:       cfg.Upload,
		RateLimiter:  limiter,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.API.Addr, "source_bucket", cfg.Storage.SourceBucket)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "err", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		os.Exit(1)
	}
}
