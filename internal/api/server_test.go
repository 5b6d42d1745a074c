package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelpipe/internal/diagnostics"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine/native"
	"github.com/dunamismax/pixelpipe/internal/logging"
	"github.com/dunamismax/pixelpipe/internal/metadata"
	"github.com/dunamismax/pixelpipe/internal/pipeline"
	"github.com/dunamismax/pixelpipe/internal/queue"
	"github.com/dunamismax/pixelpipe/internal/ratelimit"
	"github.com/dunamismax/pixelpipe/internal/stats"
	"github.com/dunamismax/pixelpipe/internal/store"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.ProcessOperationPayload
}

func (q *fakeQueue) EnqueueProcessOperation(_ context.Context, payload queue.ProcessOperationPayload) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]bool
}

func (s *fakeStorage) PresignedPutURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/put/" + key, nil
}

func (s *fakeStorage) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/get/" + key, nil
}

func (s *fakeStorage) ObjectExists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key], nil
}

func (s *fakeStorage) put(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = true
}

type fakeLimiter struct {
	decision ratelimit.Decision
	err      error
	costs    []int64
}

func (l *fakeLimiter) Allow(_ context.Context, _ string, cost int64) (ratelimit.Decision, error) {
	l.costs = append(l.costs, cost)
	return l.decision, l.err
}

type harness struct {
	server  *Server
	queue   *fakeQueue
	storage *fakeStorage
	jobs    *store.MemoryJobStore
}

func newHarness(t *testing.T, configure func(*Options)) harness {
	t.Helper()
	h := harness{
		queue:   &fakeQueue{},
		storage: &fakeStorage{objects: map[string]bool{}},
		jobs:    store.NewMemoryJobStore(),
	}
	opts := Options{
		Logger:    logging.Discard(),
		Queue:     h.queue,
		Jobs:      h.jobs,
		Storage:   h.storage,
		Processor: pipeline.New(native.New(), pipeline.Options{Concurrency: 2, Logger: logging.Discard()}),
	}
	if configure != nil {
		configure(&opts)
	}
	h.server = NewServer(opts)
	return h
}

func (h harness) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestUploadJobLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/jobs", "alice", map[string]any{
		"upload":    true,
		"operation": map[string]any{"width": 64, "format": "webp"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decode[struct {
		JobID     string            `json:"job_id"`
		Status    string            `json:"status"`
		Upload    map[string]string `json:"upload"`
		OutputKey string            `json:"output_key"`
		StartURL  string            `json:"start_url"`
	}](t, rec)
	assert.Equal(t, domain.JobStatusCreated, created.Status)
	assert.Equal(t, "ready", created.Upload["presigned_url_state"])
	assert.Equal(t, "uploads/"+created.JobID+"/source", created.Upload["object_key"])
	assert.Equal(t, "https://storage.test/put/uploads/"+created.JobID+"/source", created.Upload["presigned_put_url"])
	assert.Equal(t, "outputs/"+created.JobID+"/output", created.OutputKey)

	job, ok, err := h.jobs.Get(context.Background(), created.JobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", job.UserID)
	assert.Equal(t, 64, job.Operation.Width)
	assert.Equal(t, -1, job.Operation.Height)

	rec = h.do(t, http.MethodPost, created.StartURL, "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "start before upload")

	h.storage.put(created.Upload["object_key"])
	rec = h.do(t, http.MethodPost, created.StartURL, "alice", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[map[string]any](t, rec)
	assert.Equal(t, domain.JobStatusQueued, started["status"])
	assert.Equal(t, "pending", started["state"])

	require.Len(t, h.queue.payloads, 1)
	payload := h.queue.payloads[0]
	assert.Equal(t, created.JobID, payload.JobID)
	assert.Equal(t, "alice", payload.UserID)
	assert.Equal(t, "webp", payload.Operation.Format)
	assert.Equal(t, created.OutputKey, payload.Operation.ObjectOut)

	rec = h.do(t, http.MethodPost, created.StartURL, "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "second start")
	assert.Len(t, h.queue.payloads, 1)
}

func TestGetJobReportsResult(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/jobs", "bob", map[string]any{"upload": true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := decode[map[string]any](t, rec)["job_id"].(string)

	rec = h.do(t, http.MethodGet, "/v1/jobs/"+jobID, "mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other callers cannot see the job")

	_, err := h.jobs.Complete(context.Background(), jobID, domain.Info{
		Format: "png", Width: 10, Height: 5, ObjectKey: "outputs/" + jobID + "/output",
	}, []string{"icc-export: profile unavailable"})
	require.NoError(t, err)

	rec = h.do(t, http.MethodGet, "/v1/jobs/"+jobID, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Status    string      `json:"status"`
		Result    domain.Info `json:"result"`
		OutputURL string      `json:"output_url"`
		Warnings  []string    `json:"warnings"`
	}](t, rec)
	assert.Equal(t, domain.JobStatusSucceeded, got.Status)
	assert.Equal(t, 10, got.Result.Width)
	assert.Equal(t, "https://storage.test/get/outputs/"+jobID+"/output", got.OutputURL)
	assert.Len(t, got.Warnings, 1)

	rec = h.do(t, http.MethodGet, "/v1/jobs/not-a-uuid", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, nil)

	cases := map[string]string{
		"file input":      `{"operation":{"input":{"file":"/etc/passwd"}}}`,
		"upload and src":  `{"upload":true,"operation":{"input":{"object":"in.png"}}}`,
		"no input":        `{"operation":{"width":10}}`,
		"unknown field":   `{"operation":{"input":{"object":"in.png"}},"bogus":1}`,
		"bad webhook url": `{"webhook_url":"ftp://example.com","operation":{"input":{"object":"in.png"}}}`,
		"unknown canvas":  `{"operation":{"input":{"object":"in.png"},"width":10,"canvas":"stretch"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/jobs", "", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateJobRejectsUnknownOutputFormat(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/jobs", "", `{"operation":{"input":{"object":"in.png"},"format":"bogus"}}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "bogus")
}

func TestProcessReturnsEncodedImage(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/process", "", map[string]any{
		"input":  map[string]any{"buffer": samplePNG(t, 30, 20)},
		"width":  15,
		"format": "png",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	var info domain.Info
	require.NoError(t, json.Unmarshal([]byte(rec.Header().Get(infoHeader)), &info))
	assert.Equal(t, 15, info.Width)
	assert.Equal(t, 10, info.Height)
	assert.Equal(t, int64(rec.Body.Len()), info.Size)

	decoded, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 15, 10), decoded.Bounds())
}

func TestProcessMapsErrorKinds(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/process", "", map[string]any{
		"input": map[string]any{"buffer": []byte("definitely not an image")},
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "UnsupportedFormat", decode[map[string]string](t, rec)["kind"])

	rec = h.do(t, http.MethodPost, "/v1/process", "", map[string]any{
		"input": map[string]any{"file": "/etc/hosts"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInputSpec", decode[map[string]string](t, rec)["kind"])

	rec = h.do(t, http.MethodPost, "/v1/process", "", map[string]any{
		"input":           map[string]any{"buffer": samplePNG(t, 4, 4)},
		"extract_channel": 7,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ChannelOutOfRange", decode[map[string]string](t, rec)["kind"])
}

func TestProcessRateLimit(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 2400 * time.Millisecond}}
	h := newHarness(t, func(o *Options) { o.RateLimiter = limiter })

	rec := h.do(t, http.MethodPost, "/v1/process", "", map[string]any{
		"input":  map[string]any{"buffer": samplePNG(t, 4, 4)},
		"width":  100,
		"height": 50,
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, []int64{5000}, limiter.costs)

	limiter.err = ratelimit.ErrCostExceedsCapacity
	rec = h.do(t, http.MethodPost, "/v1/process", "", map[string]any{
		"input": map[string]any{"buffer": samplePNG(t, 4, 4)},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	limiter.err = errors.New("redis down")
	rec = h.do(t, http.MethodPost, "/v1/process", "", map[string]any{
		"input": map[string]any{"buffer": samplePNG(t, 4, 4)},
	})
	assert.Equal(t, http.StatusOK, rec.Code, "limiter failures let requests through")
}

func TestPixelCost(t *testing.T) {
	op := domain.NewOperation()
	assert.Equal(t, int64(defaultPixelCost), pixelCost(op))

	op.Width = 300
	assert.Equal(t, int64(90000), pixelCost(op))

	op.Height = 200
	assert.Equal(t, int64(60000), pixelCost(op))

	op = domain.NewOperation()
	op.Input.Create = &domain.CreateSource{Width: 10, Height: 20, Channels: 3}
	assert.Equal(t, int64(200), pixelCost(op))
}

func TestMetadataAndStatsRoutes(t *testing.T) {
	h := newHarness(t, nil)
	body := map[string]any{"buffer": samplePNG(t, 12, 9)}

	rec := h.do(t, http.MethodPost, "/v1/metadata", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	md := decode[metadata.Metadata](t, rec)
	assert.Equal(t, "png", md.Format)
	assert.Equal(t, 12, md.Width)
	assert.Equal(t, 9, md.Height)

	rec = h.do(t, http.MethodPost, "/v1/stats", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[stats.Stats](t, rec)
	require.Len(t, st.Channels, 3)
	assert.True(t, st.IsOpaque)
	assert.Equal(t, 90.0, st.Channels[2].Mean)

	rec = h.do(t, http.MethodPost, "/v1/metadata", "", map[string]any{"file": "/etc/hosts"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiagnosticsRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/v1/diagnostics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[diagnostics.Snapshot](t, rec)
	assert.Equal(t, "native", snap.Engine)
	assert.Equal(t, 2, snap.Concurrency)

	rec = h.do(t, http.MethodPut, "/v1/diagnostics", "", `{"concurrency":4,"block":["pngload"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decode[diagnostics.Snapshot](t, rec)
	assert.Equal(t, 4, snap.Concurrency)
	assert.Equal(t, []string{"pngload"}, snap.Blocked)

	rec = h.do(t, http.MethodPost, "/v1/process", "", map[string]any{
		"input": map[string]any{"buffer": samplePNG(t, 4, 4)},
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = h.do(t, http.MethodPut, "/v1/diagnostics", "", `{"concurrency":-3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(t, http.MethodGet, "/healthz", "", nil)

	rec := h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pixelpipe_api_requests_total{method="GET",route="/healthz",status="200"} 1`), body)
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/jobs":           "/v1/jobs",
		"/v1/jobs/abc":       "/v1/jobs/{id}",
		"/v1/jobs/abc/start": "/v1/jobs/{id}/start",
		"/v1/process":        "/v1/process",
		"/metrics":           "/metrics",
		"/wp-login.php":      "other",
	}
	for path, want := range cases {
		assert.Equal(t, want, routeLabel(path), path)
	}
}
