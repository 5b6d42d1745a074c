package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessOperation = "operation:process"

type ProcessOperationPayload struct {
	JobID       string           `json:"job_id"`
	UserID      string           `json:"user_id,omitempty"`
	WebhookURL  string           `json:"webhook_url,omitempty"`
	Operation   domain.Operation `json:"operation"`
	RequestedAt time.Time        `json:"requested_at"`
}

func NewProcessOperationTask(payload ProcessOperationPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessOperation, body), nil
}

func ParseProcessOperationPayload(task *asynq.Task) (ProcessOperationPayload, error) {
	var payload ProcessOperationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessOperationPayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
