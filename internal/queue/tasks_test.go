package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/geometry"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessOperationTaskRoundTrip(t *testing.T) {
	op := domain.NewOperation()
	op.Input = domain.NewInputSpec()
	op.Input.Object = "uploads/job-123/source"
	op.Width, op.Height = 400, 300
	op.Canvas = geometry.CanvasEmbed
	op.ObjectOut = "outputs/job-123.webp"
	op.Format = "webp"

	payload := ProcessOperationPayload{
		JobID:       "job-123",
		UserID:      "user-1",
		WebhookURL:  "https://example.com/hook",
		Operation:   op,
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewProcessOperationTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeProcessOperation, task.Type())

	parsed, err := ParseProcessOperationPayload(task)
	require.NoError(t, err)
	assert.Equal(t, payload.JobID, parsed.JobID)
	assert.Equal(t, payload.UserID, parsed.UserID)
	assert.Equal(t, "uploads/job-123/source", parsed.Operation.Input.Object)
	assert.Equal(t, 400, parsed.Operation.Width)
	assert.Equal(t, geometry.CanvasEmbed, parsed.Operation.Canvas)
	assert.Equal(t, -1, parsed.Operation.ExtractChannel)
	assert.Equal(t, 1, parsed.Operation.Input.Pages)
	assert.True(t, payload.RequestedAt.Equal(parsed.RequestedAt))
}

func TestParseProcessOperationPayloadRejectsGarbage(t *testing.T) {
	_, err := ParseProcessOperationPayload(asynq.NewTask(TypeProcessOperation, []byte("{")))
	require.Error(t, err)
}
