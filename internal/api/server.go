package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelpipe/internal/diagnostics"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/metadata"
	"github.com/dunamismax/pixelpipe/internal/pipeline"
	"github.com/dunamismax/pixelpipe/internal/queue"
	"github.com/dunamismax/pixelpipe/internal/stats"
	"github.com/dunamismax/pixelpipe/internal/store"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxBodyBytes = 32 << 20

type Options struct {
	Logger     *logrus.Entry
	Queue      queueEnqueuer
	Jobs       store.JobStore
	Storage    objectStorage
	PresignTTL time.Duration

	// Processor serves the synchronous routes. Nil leaves them unregistered.
	Processor *pipeline.Processor

	RateLimiter  RateLimiter
	UserIDHeader string
	// MaxBacklog rejects synchronous work while more requests than this
	// are waiting for a pipeline worker. Zero disables the check.
	MaxBacklog   int
	MaxBodyBytes int64

	Registry *prometheus.Registry
	Tracer   trace.Tracer
}

type Server struct {
	logger       *logrus.Entry
	queueClient  queueEnqueuer
	jobStore     store.JobStore
	storage      objectStorage
	presignTTL   time.Duration
	processor    *pipeline.Processor
	metadata     *metadata.Reader
	stats        *stats.Reader
	diagnostics  *diagnostics.Service
	rateLimiter  RateLimiter
	userIDHeader string
	maxBacklog   int
	maxBodyBytes int64
	metrics      *metrics
	tracer       trace.Tracer
	mux          *http.ServeMux
	handler      http.Handler
}

type queueEnqueuer interface {
	EnqueueProcessOperation(ctx context.Context, payload queue.ProcessOperationPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

func NewServer(opts Options) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "api")
	}
	if strings.TrimSpace(opts.UserIDHeader) == "" {
		opts.UserIDHeader = "X-User-ID"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		logger:       opts.Logger,
		queueClient:  opts.Queue,
		jobStore:     opts.Jobs,
		storage:      opts.Storage,
		presignTTL:   opts.PresignTTL,
		processor:    opts.Processor,
		rateLimiter:  opts.RateLimiter,
		userIDHeader: opts.UserIDHeader,
		maxBacklog:   opts.MaxBacklog,
		maxBodyBytes: opts.MaxBodyBytes,
		metrics:      newMetrics(opts.Registry),
		tracer:       opts.Tracer,
		mux:          http.NewServeMux(),
	}
	if s.processor != nil {
		s.metadata = metadata.NewReader(s.processor.Inputs())
		s.stats = stats.NewReader(s.processor.Engine(), s.processor.Inputs())
		s.diagnostics = diagnostics.NewService(s.processor, s.logger.WithField("component", "diagnostics"))
	}
	s.routes()
	s.handler = s.metrics.withHTTPMetrics(s.withTracing(s.mux))
	return s
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errStorageUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	if s.jobStore != nil && s.queueClient != nil {
		s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
		s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
		s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	}

	if s.processor != nil {
		s.mux.HandleFunc("POST /v1/process", s.handleProcess)
		s.mux.HandleFunc("POST /v1/metadata", s.handleMetadata)
		s.mux.HandleFunc("POST /v1/stats", s.handleStats)
		s.mux.HandleFunc("GET /v1/diagnostics", s.handleGetDiagnostics)
		s.mux.HandleFunc("PUT /v1/diagnostics", s.handleUpdateDiagnostics)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) userID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(s.userIDHeader)); v != "" {
		return v
	}
	return "anonymous"
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, into any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writePipelineError reports a failed pipeline call with the status that
// matches its error kind. Internal failures are logged and hidden.
func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	message := domain.Message(err)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("pipeline request failed")
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}

func statusForKind(kind string) int {
	switch kind {
	case "InvalidInputSpec", "ChannelOutOfRange":
		return http.StatusBadRequest
	case "MissingInput":
		return http.StatusNotFound
	case "PixelLimitExceeded", "DimensionTooLarge":
		return http.StatusRequestEntityTooLarge
	case "UnsupportedFormat", "UnsupportedOutputFormat":
		return http.StatusUnsupportedMediaType
	case "CorruptHeader", "MultiPageUnsupported":
		return http.StatusUnprocessableEntity
	case "Timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
