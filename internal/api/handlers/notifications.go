package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"herald/internal/core"
	"herald/internal/intake"
	"herald/internal/types"
)

// NotificationService is the intake contract. Every call carries the raw
// bearer secret; the service authenticates and scopes by tenant.
type NotificationService interface {
	Submit(ctx context.Context, req intake.SubmitRequest, secret string) (*intake.SubmitResult, error)
	GetJob(ctx context.Context, secret, jobID string) (*types.ScheduledJob, error)
	ListJobAttempts(ctx context.Context, secret, jobID string) ([]*types.DeliveryAttempt, error)
	ListRequestJobs(ctx context.Context, secret, requestID string) ([]*types.ScheduledJob, error)
}

type NotificationHandler struct {
	svc    NotificationService
	logger *slog.Logger
}

func NewNotificationHandler(svc NotificationService, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{svc: svc, logger: l}
}

// RegisterRoutes mounts notification routes. The caller applies
// core.RequireBearer.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Submit)
	r.Get("/jobs/{jobID}", h.GetJob)
	r.Get("/jobs/{jobID}/attempts", h.ListJobAttempts)
	r.Get("/requests/{requestID}/jobs", h.ListRequestJobs)
}

// Submit handles POST /v1/notifications. It returns 202 as soon as the jobs
// are durably enqueued; delivery outcome is observable only through the
// job endpoints.
func (h *NotificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req intake.SubmitRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.svc.Submit(r.Context(), req, core.BearerToken(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "notification accepted",
		"request_id", res.RequestID,
		"jobs", len(res.JobIDs),
		"channel", req.Channel,
	)
	core.Data(w, r, http.StatusAccepted, res)
}

// GetJob handles GET /v1/notifications/jobs/{jobID}.
func (h *NotificationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), core.BearerToken(r), chi.URLParam(r, "jobID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, job)
}

// ListJobAttempts handles GET /v1/notifications/jobs/{jobID}/attempts.
func (h *NotificationHandler) ListJobAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.svc.ListJobAttempts(r.Context(), core.BearerToken(r), chi.URLParam(r, "jobID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []*types.DeliveryAttempt{}
	}
	core.Data(w, r, http.StatusOK, attempts)
}

// ListRequestJobs handles GET /v1/notifications/requests/{requestID}/jobs.
func (h *NotificationHandler) ListRequestJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.ListRequestJobs(r.Context(), core.BearerToken(r), chi.URLParam(r, "requestID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*types.ScheduledJob{}
	}
	core.Data(w, r, http.StatusOK, jobs)
}
