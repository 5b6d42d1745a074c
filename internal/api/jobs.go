package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/id"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"github.com/dunamismax/pixelpipe/internal/queue"
)

func uploadKey(jobID string) string {
	return fmt.Sprintf("uploads/%s/source", jobID)
}

func outputKey(jobID string) string {
	return fmt.Sprintf("outputs/%s/output", jobID)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req := domain.CreateJobRequest{Operation: domain.NewOperation()}
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := id.New()
	if err := req.PrepareUpload(uploadKey(jobID)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Operation.ObjectOut) == "" {
		req.Operation.ObjectOut = outputKey(jobID)
	}
	if err := req.Operation.Normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := imagetype.ParseFormat(req.Operation.Format); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, domain.Message(err))
		return
	}
	if !s.admit(w, r, 1, false) {
		return
	}

	upload := map[string]string{"presigned_url_state": "not_required"}
	if req.Upload {
		url, err := s.storage.PresignedPutURL(r.Context(), req.Operation.Input.Object, s.presignTTL)
		if err != nil {
			s.logger.WithError(err).WithField("job_id", jobID).Error("generate presigned url failed")
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		upload = map[string]string{
			"object_key":          req.Operation.Input.Object,
			"presigned_put_url":   url,
			"presigned_url_state": "ready",
		}
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:         jobID,
		UserID:     s.userID(r),
		Status:     domain.JobStatusCreated,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		Operation:  req.Operation,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"upload":     upload,
		"output_key": job.Operation.ObjectOut,
		"start_url":  fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

// loadJob fetches the job named in the path. Jobs owned by another caller
// are reported as missing.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "job id must be a uuid")
		return domain.Job{}, false
	}
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Error("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok || (job.UserID != "" && job.UserID != s.userID(r)) {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}
	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if !s.admit(w, r, pixelCost(job.Operation), false) {
		return
	}

	payload := queue.ProcessOperationPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		WebhookURL:  job.WebhookURL,
		Operation:   job.Operation,
		RequestedAt: time.Now().UTC(),
	}
	taskInfo, err := s.queueClient.EnqueueProcessOperation(r.Context(), payload)
	if err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.enqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	resp := map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.Result != nil {
		resp["result"] = job.Result
		if key := job.Result.ObjectKey; key != "" {
			url, err := s.storage.PresignedGetURL(r.Context(), key, s.presignTTL)
			if err != nil {
				s.logger.WithError(err).WithField("job_id", job.ID).Warn("presign output failed")
			} else {
				resp["output_url"] = url
			}
		}
	}
	if len(job.Warnings) > 0 {
		resp["warnings"] = job.Warnings
	}
	if job.Error != "" {
		resp["error"] = job.Error
		resp["error_kind"] = job.ErrorKind
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	if job.Operation.Input.Source() != "object" {
		return nil
	}
	key := job.Operation.Input.Object
	exists, err := s.storage.ObjectExists(ctx, key)
	if err != nil {
		return fmt.Errorf("source object check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("source object is missing: %s", key)
	}
	return nil
}
