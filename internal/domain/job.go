package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

type CreateJobRequest struct {
	WebhookURL string    `json:"webhook_url,omitempty"`
	Operation  Operation `json:"operation"`
	// Upload asks for a presigned upload URL; the uploaded object becomes
	// the input.
	Upload bool `json:"upload,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	WebhookURL string
	Operation  Operation
	Result     *Info
	Warnings   []string
	Error      string
	ErrorKind  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UsageLog is the billing record written once per successful job.
// BytesSaved is never negative.
type UsageLog struct {
	UserID          string    `json:"user_id"`
	JobID           string    `json:"job_id"`
	PixelsProcessed int64     `json:"pixels_processed"`
	BytesSaved      int64     `json:"bytes_saved"`
	ComputeTimeMS   int64     `json:"compute_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

func (r CreateJobRequest) Validate() error {
	if webhook := strings.TrimSpace(r.WebhookURL); webhook != "" {
		u, err := url.Parse(webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("webhook_url must be an absolute http(s) url")
		}
	}
	return r.Operation.ValidateRemote()
}

// ValidateRemote validates an operation received over the network, where
// nothing may name a path on the server's filesystem.
func (o Operation) ValidateRemote() error {
	inputs := append([]InputSpec{o.Input}, o.JoinChannel...)
	for _, c := range o.Composite {
		inputs = append(inputs, c.Input)
	}
	if o.Boolean != nil {
		inputs = append(inputs, o.Boolean.Input)
	}
	for _, in := range inputs {
		if in.Source() == "file" {
			return fmt.Errorf("%w: file inputs are not accepted over http", ErrInvalidInputSpec)
		}
		if in.Text != nil && strings.TrimSpace(in.Text.FontFile) != "" {
			return fmt.Errorf("%w: fontfile is not accepted over http", ErrInvalidInputSpec)
		}
	}
	if strings.TrimSpace(o.FileOut) != "" {
		return fmt.Errorf("%w: file_out is not accepted over http", ErrInvalidInputSpec)
	}
	return o.Validate()
}

// PrepareUpload points the input at key when an upload was requested.
func (r *CreateJobRequest) PrepareUpload(key string) error {
	if !r.Upload {
		return nil
	}
	if r.Operation.Input.Source() != "" {
		return fmt.Errorf("%w: upload cannot be combined with an input source", ErrInvalidInputSpec)
	}
	r.Operation.Input.Object = key
	return nil
}

// Terminal reports whether the job has finished, successfully or not.
func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
