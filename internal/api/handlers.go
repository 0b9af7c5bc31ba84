package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/pkg/httputil"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
	"github.com/phishsense/sendjobs/internal/service/validation"
)

// CodeSendValidationFailed is the error code returned when a launch is
// blocked by template validation.
const CodeSendValidationFailed = "send_validation_failed"

// SendJobService is what the handlers need from the send-job service.
type SendJobService interface {
	Launch(ctx context.Context, projectID string) (*sendjob.EnqueueResult, error)
	Job(ctx context.Context, id string) (*domain.SendJob, error)
}

// Handlers contains the HTTP handlers for launching sends.
type Handlers struct {
	sendJobs SendJobService
}

// NewHandlers creates the handlers.
func NewHandlers(sendJobs SendJobService) *Handlers {
	return &Handlers{sendJobs: sendJobs}
}

// LaunchResponse is the body of a successful launch.
type LaunchResponse struct {
	JobID   string          `json:"jobId"`
	Created bool            `json:"created"`
	Job     *domain.SendJob `json:"job"`
}

// LaunchSend validates the project and enqueues its send job. An already
// active job is returned with 200 instead of 201.
//
//	POST /api/projects/{id}/send
func (h *Handlers) LaunchSend(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")

	res, err := h.sendJobs.Launch(r.Context(), projectID)
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		httputil.CodedError(w, http.StatusUnprocessableEntity, CodeSendValidationFailed,
			validation.Format(verr.Issues), verr.Issues)
		return
	case errors.Is(err, sendjob.ErrProjectNotFound):
		httputil.NotFound(w, "project not found")
		return
	case err != nil:
		httputil.InternalError(w, r, err)
		return
	}

	body := LaunchResponse{JobID: res.Job.ID, Created: res.Created, Job: res.Job}
	if res.Created {
		httputil.Created(w, body)
		return
	}
	httputil.OK(w, body)
}

// GetSendJob returns a send job with its progress counters.
//
//	GET /api/send-jobs/{id}
func (h *Handlers) GetSendJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.sendJobs.Job(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		httputil.NotFound(w, "send job not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, job)
}
