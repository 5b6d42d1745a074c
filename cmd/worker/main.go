package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/pixelpipe/internal/bootstrap"
	"github.com/dunamismax/pixelpipe/internal/config"
	"github.com/dunamismax/pixelpipe/internal/engine/backend"
	"github.com/dunamismax/pixelpipe/internal/logging"
	"github.com/dunamismax/pixelpipe/internal/telemetry"
	"github.com/dunamismax/pixelpipe/internal/webhook"
	"github.com/dunamismax/pixelpipe/internal/worker"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logging.Configure(cfg.Log.Level, cfg.Log.Format)
	logger := logging.New("worker")
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
		Engine:       backend.Name,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("tracing setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	defer rt.Close()

	opts := worker.Options{
		Logger:    logger,
		Queue:     cfg.Queue,
		Worker:    cfg.Worker,
		Processor: rt.Processor,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
		Jobs:     rt.Jobs,
		Registry: rt.Registry,
	}
	if rt.Storage != nil {
		opts.Objects = rt.Storage
	}
	srv, err := worker.NewServer(opts)
	if err != nil {
		logger.WithError(err).Fatal("worker setup failed")
	}

	metricsServer := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: srv.MetricsHandler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	defer metricsServer.Close()

	logger.WithFields(logrus.Fields{
		"concurrency":     cfg.Worker.Concurrency,
		"max_active_jobs": cfg.Worker.MaxActiveJobs,
		"queue":           cfg.Queue.Name,
		"redis":           cfg.Queue.RedisAddr,
		"metrics_addr":    cfg.Worker.MetricsAddr,
	}).Info("starting worker")

	if err := srv.Run(); err != nil {
		logger.WithError(err).Error("worker failed")
	}
}
