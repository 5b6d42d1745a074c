package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueProcessOperation schedules one pipeline run. Operations are not
// retried: every pipeline failure is terminal. The task deadline leaves a
// minute on top of the operation's own timeout.
func (c *Client) EnqueueProcessOperation(ctx context.Context, payload ProcessOperationPayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessOperationTask(payload)
	if err != nil {
		return nil, err
	}
	timeout := 3 * time.Minute
	if s := payload.Operation.TimeoutSeconds; s > 0 {
		timeout = time.Duration(s)*time.Second + time.Minute
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
