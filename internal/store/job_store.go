package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelpipe/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete marks the job succeeded and records the output info.
	Complete(ctx context.Context, id string, info domain.Info, warnings []string) (domain.Job, error)
	// Fail marks the job failed with the error kind and trimmed message.
	Fail(ctx context.Context, id, kind, message string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
