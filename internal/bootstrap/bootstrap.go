// Package bootstrap assembles the engine, storage, job store and pipeline
// processor shared by the API and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/accounting"
	"github.com/dunamismax/pixelpipe/internal/config"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/engine/backend"
	"github.com/dunamismax/pixelpipe/internal/pipeline"
	"github.com/dunamismax/pixelpipe/internal/storage"
	"github.com/dunamismax/pixelpipe/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

type Runtime struct {
	Engine    engine.Engine
	Processor *pipeline.Processor
	// Storage is nil when no object storage endpoint is configured.
	Storage  *storage.Client
	Jobs     store.JobStore
	Registry *prometheus.Registry

	closers []func() error
}

// NewEngine builds the engine for this build and applies the configured
// cache, vector and blocklist settings.
func NewEngine(cfg config.EngineConfig) engine.Engine {
	eng := backend.New(engine.CacheLimits{
		MemoryMB: cfg.CacheMemoryMB,
		Files:    cfg.CacheFiles,
		Items:    cfg.CacheItems,
	}, cfg.Concurrency)
	eng.SetVector(cfg.Vector)
	if len(cfg.BlockedOperations) > 0 {
		eng.Blocklist().Set(cfg.BlockedOperations, true)
	}
	return eng
}

func Build(ctx context.Context, cfg config.Config, logger *logrus.Entry) (*Runtime, error) {
	rt := &Runtime{Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if strings.TrimSpace(cfg.Storage.Endpoint) != "" {
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
			Region:   cfg.Storage.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize object storage: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		rt.Storage = client
	} else {
		logger.Warn("object storage is not configured; object inputs and outputs are disabled")
	}

	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		pg, err := store.NewPostgresJobStore(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("initialize job store: %w", err)
		}
		rt.Jobs = pg
		rt.closers = append(rt.closers, pg.Close)
	} else {
		logger.Warn("no database configured; jobs are kept in memory")
		rt.Jobs = store.NewMemoryJobStore()
	}

	rt.Engine = NewEngine(cfg.Engine)
	opts := pipeline.Options{
		Counters:    accounting.New(rt.Registry),
		Concurrency: cfg.Engine.Concurrency,
		Logger:      logger.WithField("component", "pipeline"),
		Registerer:  rt.Registry,
	}
	if rt.Storage != nil {
		opts.Objects = rt.Storage
	}
	rt.Processor = pipeline.New(rt.Engine, opts)

	logger.WithFields(logrus.Fields{
		"engine":      rt.Engine.Name(),
		"concurrency": rt.Processor.Concurrency(),
		"vector":      rt.Engine.Vector(),
		"blocked":     rt.Engine.Blocklist().List(),
	}).Info("pipeline ready")
	return rt, nil
}

func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
	backend.Shutdown()
}
