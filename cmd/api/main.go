package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelpipe/internal/api"
	"github.com/dunamismax/pixelpipe/internal/bootstrap"
	"github.com/dunamismax/pixelpipe/internal/config"
	"github.com/dunamismax/pixelpipe/internal/engine/backend"
	"github.com/dunamismax/pixelpipe/internal/logging"
	"github.com/dunamismax/pixelpipe/internal/queue"
	"github.com/dunamismax/pixelpipe/internal/ratelimit"
	"github.com/dunamismax/pixelpipe/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logging.Configure(cfg.Log.Level, cfg.Log.Format)
	logger := logging.New("api")
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
		Engine:       backend.Name,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("tracing setup failed")
	}

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	defer rt.Close()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.WithError(err).Warn("queue client close error")
		}
	}()

	opts := api.Options{
		Logger:     logger,
		Queue:      queueClient,
		Jobs:       rt.Jobs,
		PresignTTL: cfg.API.PresignTTL,
		Processor:  rt.Processor,
		MaxBacklog: cfg.API.MaxBacklog,
		Registry:   rt.Registry,
		Tracer:     otel.Tracer("pixelpipe/api"),
	}
	if rt.Storage != nil {
		opts.Storage = rt.Storage
	}
	if cfg.API.RateLimitPixels > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitPixels, cfg.API.RateLimitWindow, "")
		if err != nil {
			logger.WithError(err).Fatal("rate limiter setup failed")
		}
		opts.RateLimiter = limiter
	}
	app := api.NewServer(opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.API.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracing shutdown failed")
	}
}
