package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelpipe/internal/config"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine/native"
	"github.com/dunamismax/pixelpipe/internal/logging"
	"github.com/dunamismax/pixelpipe/internal/pipeline"
	"github.com/dunamismax/pixelpipe/internal/queue"
	"github.com/dunamismax/pixelpipe/internal/store"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentWebhook struct {
	endpoint string
	event    string
	payload  map[string]any
}

type captureWebhooks struct {
	mu   sync.Mutex
	sent []sentWebhook
}

func (c *captureWebhooks) Send(_ context.Context, endpoint, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentWebhook{endpoint: endpoint, event: event, payload: payload.(map[string]any)})
	return nil
}

type fixture struct {
	server   *Server
	jobs     *store.MemoryJobStore
	webhooks *captureWebhooks
	outDir   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		jobs:     store.NewMemoryJobStore(),
		webhooks: &captureWebhooks{},
		outDir:   t.TempDir(),
	}
	s, err := newServer(Options{
		Logger:    logging.Discard(),
		Worker:    config.WorkerConfig{MaxActiveJobs: 2, LocalOutputDir: f.outDir},
		Processor: pipeline.New(native.New(), pipeline.Options{Concurrency: 2, Logger: logging.Discard()}),
		Webhooks:  f.webhooks,
		Jobs:      f.jobs,
	})
	require.NoError(t, err)
	f.server = s
	return f
}

func (f fixture) seed(t *testing.T, jobID, userID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.jobs.Create(context.Background(), domain.Job{
		ID:        jobID,
		UserID:    userID,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func task(t *testing.T, payload queue.ProcessOperationPayload) *asynq.Task {
	t.Helper()
	tk, err := queue.NewProcessOperationTask(payload)
	require.NoError(t, err)
	return tk
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHandleProcessOperationSucceeds(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "job-1", "alice")

	op := domain.NewOperation()
	op.Input = domain.BufferInput(samplePNG(t, 30, 20))
	op.Width = 15
	op.ObjectOut = "outputs/job-1/output.png"

	err := f.server.handleProcessOperation(context.Background(), task(t, queue.ProcessOperationPayload{
		JobID:       "job-1",
		UserID:      "alice",
		WebhookURL:  "https://hooks.test/done",
		Operation:   op,
		RequestedAt: time.Now().UTC(),
	}))
	require.NoError(t, err)

	job, ok, err := f.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, 15, job.Result.Width)
	assert.Equal(t, 10, job.Result.Height)

	written := filepath.Join(f.outDir, "outputs", "job-1", "output.png")
	data, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), job.Result.Size)

	logs := f.jobs.UsageLogs("alice")
	require.Len(t, logs, 1)
	assert.Equal(t, int64(150), logs[0].PixelsProcessed)
	assert.GreaterOrEqual(t, logs[0].ComputeTimeMS, int64(1))

	require.Len(t, f.webhooks.sent, 1)
	assert.Equal(t, "job.completed", f.webhooks.sent[0].event)
	assert.Equal(t, "https://hooks.test/done", f.webhooks.sent[0].endpoint)
	assert.Equal(t, domain.JobStatusSucceeded, f.webhooks.sent[0].payload["status"])
}

func TestHandleProcessOperationRecordsFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "job-2", "bob")

	op := domain.NewOperation()
	op.Input = domain.BufferInput([]byte("this is not an image"))

	err := f.server.handleProcessOperation(context.Background(), task(t, queue.ProcessOperationPayload{
		JobID:      "job-2",
		UserID:     "bob",
		WebhookURL: "https://hooks.test/done",
		Operation:  op,
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	job, _, err := f.jobs.Get(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "UnsupportedFormat", job.ErrorKind)
	assert.NotEmpty(t, job.Error)
	assert.Empty(t, f.jobs.UsageLogs("bob"))

	require.Len(t, f.webhooks.sent, 1)
	assert.Equal(t, "job.failed", f.webhooks.sent[0].event)
	assert.Equal(t, "UnsupportedFormat", f.webhooks.sent[0].payload["error_kind"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.server.metrics.failures.WithLabelValues("UnsupportedFormat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.server.metrics.jobs.WithLabelValues("buffer", domain.JobStatusFailed)))
}

func TestHandleProcessOperationRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	err := f.server.handleProcessOperation(context.Background(), asynq.NewTask(queue.TypeProcessOperation, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestLocalizeKeepsOutputsInsideDirectory(t *testing.T) {
	f := newFixture(t)

	op := domain.NewOperation()
	op.ObjectOut = "../../etc/passwd"
	got := f.server.localize(op)
	assert.Empty(t, got.ObjectOut)
	assert.Equal(t, filepath.Join(f.outDir, "etc", "passwd"), got.FileOut)

	op = domain.NewOperation()
	assert.Equal(t, op, f.server.localize(op), "operations without object output are untouched")
}

func TestRecordUsageClampsAndDefaultsUser(t *testing.T) {
	f := newFixture(t)

	op := domain.NewOperation()
	op.Input = domain.BufferInput(make([]byte, 100))
	f.server.recordUsage(context.Background(), queue.ProcessOperationPayload{JobID: "job-3"}, op, pipeline.Result{
		Info: domain.Info{Width: 5, Height: 4, Size: 400},
	}, 0)

	logs := f.jobs.UsageLogs("anonymous")
	require.Len(t, logs, 1)
	assert.Equal(t, int64(20), logs[0].PixelsProcessed)
	assert.Zero(t, logs[0].BytesSaved)
	assert.Equal(t, int64(1), logs[0].ComputeTimeMS)

	f.server.recordUsage(context.Background(), queue.ProcessOperationPayload{JobID: "job-4", UserID: "carol"}, op, pipeline.Result{
		Info: domain.Info{Width: 2, Height: 2, Size: 30},
	}, 250*time.Millisecond)
	logs = f.jobs.UsageLogs("carol")
	require.Len(t, logs, 1)
	assert.Equal(t, int64(70), logs[0].BytesSaved)
	assert.Equal(t, int64(250), logs[0].ComputeTimeMS)
	assert.Equal(t, 24.0, testutil.ToFloat64(f.server.metrics.pixels))
	assert.Equal(t, 70.0, testutil.ToFloat64(f.server.metrics.saved))
}

func TestObserveQueuedIgnoresMissingTimestamps(t *testing.T) {
	m := newMetrics(nil)
	now := time.Now()
	m.observeQueued(time.Time{}, now)
	m.observeQueued(now.Add(time.Second), now)
	m.observeQueued(now.Add(-2*time.Second), now)

	families, err := m.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == "pixelpipe_worker_queue_wait_seconds" {
			h := family.GetMetric()[0].GetHistogram()
			assert.Equal(t, uint64(1), h.GetSampleCount())
			assert.InDelta(t, 2.0, h.GetSampleSum(), 0.001)
			return
		}
	}
	t.Fatal("queue wait histogram not registered")
}

func TestNewServerRequiresProcessor(t *testing.T) {
	_, err := newServer(Options{Logger: logging.Discard()})
	require.Error(t, err)
}
