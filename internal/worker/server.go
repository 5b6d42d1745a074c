package worker

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixelpipe/internal/config"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/pipeline"
	"github.com/dunamismax/pixelpipe/internal/queue"
	"github.com/dunamismax/pixelpipe/internal/store"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Logger    *logrus.Entry
	Queue     config.QueueConfig
	Worker    config.WorkerConfig
	Processor *pipeline.Processor
	// Objects reports input sizes for usage accounting. When nil, object
	// outputs are written under Worker.LocalOutputDir instead.
	Objects  objectSizer
	Webhooks webhookSender
	Jobs     store.JobStore
	Usage    store.UsageStore
	Registry *prometheus.Registry
}

type Server struct {
	logger         *logrus.Entry
	server         *asynq.Server
	sem            chan struct{}
	processor      *pipeline.Processor
	objects        objectSizer
	localOutputDir string
	webhookClient  webhookSender
	jobStore       store.JobStore
	usageStore     store.UsageStore
	metrics        *metrics
	tracer         trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type objectSizer interface {
	ObjectSize(ctx context.Context, objectKey string) (int64, error)
}

func NewServer(opts Options) (*Server, error) {
	s, err := newServer(opts)
	if err != nil {
		return nil, err
	}
	s.server = asynq.NewServer(
		opts.Queue.RedisClientOpt(),
		asynq.Config{
			Concurrency: opts.Worker.Concurrency,
			Queues: map[string]int{
				opts.Queue.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				s.logger.WithError(err).WithFields(logrus.Fields{
					"type":  task.Type(),
					"retry": fmt.Sprintf("%d/%d", retried, maxRetry),
				}).Error("task failed")
			}),
		},
	)
	return s, nil
}

func newServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("pipeline processor is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "worker")
	}
	usageStore := opts.Usage
	if usageStore == nil {
		if jobAndUsageStore, ok := opts.Jobs.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}
	return &Server{
		logger:         opts.Logger,
		sem:            make(chan struct{}, max(1, opts.Worker.MaxActiveJobs)),
		processor:      opts.Processor,
		objects:        opts.Objects,
		localOutputDir: strings.TrimSpace(opts.Worker.LocalOutputDir),
		webhookClient:  opts.Webhooks,
		jobStore:       opts.Jobs,
		usageStore:     usageStore,
		metrics:        newMetrics(opts.Registry),
		tracer:         otel.Tracer("pixelpipe/worker"),
	}, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessOperation, s.handleProcessOperation)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessOperation(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessOperationPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	source := payload.Operation.Input.Source()

	ctx, span := s.tracer.Start(ctx, "worker.process_operation", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source", source),
		attribute.String("job.format", payload.Operation.Format),
		attribute.Int("job.composites", len(payload.Operation.Composite)),
	)
	defer span.End()
	defer func() { s.metrics.observeJob(source, outcome, time.Since(startedAt)) }()
	s.metrics.observeQueued(payload.RequestedAt, startedAt)

	s.sem <- struct{}{}
	s.metrics.active.Inc()
	defer func() {
		<-s.sem
		s.metrics.active.Dec()
	}()

	logger := s.logger.WithFields(logrus.Fields{"job_id": payload.JobID, "source": source})
	logger.WithField("format", payload.Operation.Format).Info("processing job")
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	op := s.localize(payload.Operation)
	result, err := s.processor.Run(ctx, op)
	if err != nil {
		kind, message := domain.KindOf(err), domain.Message(err)
		s.failJob(ctx, payload.JobID, kind, message)
		s.metrics.failures.WithLabelValues(kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		logger.WithError(err).WithField("kind", kind).Warn("job failed")
		_ = s.dispatchWebhook(ctx, payload, "job.failed", map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        message,
			"error_kind":   kind,
		})
		return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
	}

	warnings := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		logger.WithField("stage", w.Stage).Warn(w.Message)
		warnings = append(warnings, w.Stage+": "+w.Message)
	}
	logger.WithFields(logrus.Fields{
		"width":  result.Info.Width,
		"height": result.Info.Height,
		"size":   result.Info.Size,
	}).Info("job processed")
	s.completeJob(ctx, payload.JobID, result.Info, warnings)
	s.recordUsage(ctx, payload, op, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, "job.completed", map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"result":       result.Info,
		"warnings":     warnings,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// localize redirects object outputs to the local output directory when no
// object storage is configured. The key is cleaned so it cannot escape the
// directory.
func (s *Server) localize(op domain.Operation) domain.Operation {
	if s.objects != nil || s.localOutputDir == "" || strings.TrimSpace(op.ObjectOut) == "" {
		return op
	}
	op.FileOut = filepath.Join(s.localOutputDir, filepath.FromSlash(filepath.Clean("/"+op.ObjectOut)))
	op.ObjectOut = ""
	return op
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"job_id": jobID, "status": status}).Error("job status update failed")
	}
}

func (s *Server) completeJob(ctx context.Context, jobID string, info domain.Info, warnings []string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Complete(ctx, jobID, info, warnings); err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Error("job completion update failed")
	}
}

func (s *Server) failJob(ctx context.Context, jobID, kind, message string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Fail(ctx, jobID, kind, message); err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Error("job failure update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessOperationPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"job_id": payload.JobID, "event": event}).Error("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func (s *Server) inputBytes(ctx context.Context, spec domain.InputSpec) int64 {
	switch spec.Source() {
	case "buffer":
		return int64(len(spec.Buffer))
	case "raw":
		return int64(len(spec.Raw.Data))
	case "object":
		if s.objects == nil {
			return 0
		}
		size, err := s.objects.ObjectSize(ctx, spec.Object)
		if err != nil {
			s.logger.WithError(err).WithField("object", spec.Object).Warn("input size lookup failed")
			return 0
		}
		return size
	}
	return 0
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ProcessOperationPayload, op domain.Operation, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	pixelsProcessed := int64(result.Info.Width) * int64(result.Info.Height)

	bytesSaved := s.inputBytes(ctx, op.Input) - result.Info.Size
	if bytesSaved < 0 {
		bytesSaved = 0
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.WithError(err).WithField("job_id", payload.JobID).Error("usage log write failed")
		return
	}

	s.metrics.observeUsage(usage)
}
