// Package handlers contains the HTTP handlers for the Herald API.
//
// Admin handlers (applications, keys, dead letters) run behind
// core.RequireAdmin. Notification handlers run behind core.RequireBearer and
// hand the bearer secret to the intake service, which resolves the tenant.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"herald/internal/auth"
	"herald/internal/core"
	"herald/internal/tenants"
	"herald/internal/types"
)

// ApplicationService is the tenant lifecycle contract used by the handler.
type ApplicationService interface {
	RegisterApplication(ctx context.Context, in tenants.RegisterInput) (*types.Application, *auth.IssuedKey, error)
	GetApplication(ctx context.Context, id string) (*types.Application, error)
	ListApplications(ctx context.Context) ([]*types.Application, error)
	UpdateApplication(ctx context.Context, id string, in tenants.UpdateInput) (*types.Application, error)
	DeleteApplication(ctx context.Context, id string) (*tenants.DeleteResult, error)
}

// ActivityChecker reports whether a tenant holds at least one usable key.
type ActivityChecker interface {
	IsApplicationActive(ctx context.Context, applicationID string) (bool, error)
}

// RegisterApplicationRequest is the body of POST /v1/applications.
type RegisterApplicationRequest struct {
	ID       string `json:"id" validate:"required,is_identifier"`
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Domain   string `json:"domain" validate:"required,is_domain"`
	KeyLabel string `json:"key_label,omitempty" validate:"max=100"`
}

// UpdateApplicationRequest is the body of PATCH /v1/applications/{id}.
type UpdateApplicationRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Email  *string `json:"email,omitempty" validate:"omitempty,email"`
	Domain *string `json:"domain,omitempty" validate:"omitempty,is_domain"`
}

// RegisterApplicationResponse carries the new tenant and its first key.
// The key secret appears here and nowhere else.
type RegisterApplicationResponse struct {
	Application *types.Application `json:"application"`
	APIKey      *auth.IssuedKey    `json:"api_key"`
}

// ApplicationStatusResponse is the body of GET /v1/applications/{id}/status.
type ApplicationStatusResponse struct {
	ApplicationID string    `json:"application_id"`
	Active        bool      `json:"active"`
	CheckedAt     time.Time `json:"checked_at"`
}

type ApplicationHandler struct {
	apps      ApplicationService
	activity  ActivityChecker
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

func NewApplicationHandler(apps ApplicationService, activity ActivityChecker, v *core.Validator, l *slog.Logger) *ApplicationHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &ApplicationHandler{
		apps:      apps,
		activity:  activity,
		validator: v,
		clock:     types.RealClock{},
		logger:    l,
	}
}

// RegisterRoutes mounts the application routes. The caller applies
// core.RequireAdmin.
func (h *ApplicationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Register)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Get("/{id}/status", h.Status)
}

// Register handles POST /v1/applications.
func (h *ApplicationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterApplicationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	app, key, err := h.apps.RegisterApplication(r.Context(), tenants.RegisterInput{
		Name:       req.Name,
		Identifier: req.ID,
		Email:      req.Email,
		Domain:     req.Domain,
		KeyLabel:   req.KeyLabel,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "application registered via api",
		"application_id", app.ID,
		"request_id", types.GetRequestID(r.Context()),
	)
	core.Data(w, r, http.StatusCreated, RegisterApplicationResponse{Application: app, APIKey: key})
}

// List handles GET /v1/applications.
func (h *ApplicationHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.apps.ListApplications(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if apps == nil {
		apps = []*types.Application{}
	}
	core.Data(w, r, http.StatusOK, apps)
}

// Get handles GET /v1/applications/{id}.
func (h *ApplicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.GetApplication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, app)
}

// Update handles PATCH /v1/applications/{id}. The identifier cannot be
// changed; an "id" field in the body is rejected as unknown.
func (h *ApplicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateApplicationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	app, err := h.apps.UpdateApplication(r.Context(), chi.URLParam(r, "id"), tenants.UpdateInput{
		Name:   req.Name,
		Email:  req.Email,
		Domain: req.Domain,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, app)
}

// Delete handles DELETE /v1/applications/{id}.
func (h *ApplicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.apps.DeleteApplication(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "application deleted via api",
		"application_id", id,
		"revoked_keys", res.RevokedKeys,
		"purged_jobs", res.PurgedJobs,
	)
	core.NoContent(w)
}

// Status handles GET /v1/applications/{id}/status.
func (h *ApplicationHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.apps.GetApplication(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	active, err := h.activity.IsApplicationActive(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, ApplicationStatusResponse{
		ApplicationID: id,
		Active:        active,
		CheckedAt:     h.clock.Now(),
	})
}
