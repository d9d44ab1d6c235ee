package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"herald/internal/auth"
	"herald/internal/core"
	"herald/internal/types"
)

// KeyManager is the credential contract used by the key handler.
type KeyManager interface {
	IssueKey(ctx context.Context, applicationID string, opts auth.IssueOptions) (*auth.IssuedKey, error)
	ListKeys(ctx context.Context, applicationID string) ([]auth.KeyMetadata, error)
	RevokeApplicationKey(ctx context.Context, applicationID, keyID string) error
}

// CreateKeyRequest is the body of POST /v1/applications/{id}/keys.
type CreateKeyRequest struct {
	Name      string     `json:"name,omitempty" validate:"max=100"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type KeyHandler struct {
	keys      KeyManager
	validator *core.Validator
	logger    *slog.Logger
}

func NewKeyHandler(keys KeyManager, v *core.Validator, l *slog.Logger) *KeyHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &KeyHandler{keys: keys, validator: v, logger: l}
}

// RegisterRoutes mounts key routes under /applications/{id}/keys.
func (h *KeyHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/{keyID}", h.Revoke)
}

// List handles GET /v1/applications/{id}/keys. Secrets are never returned.
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if keys == nil {
		keys = []auth.KeyMetadata{}
	}
	core.Data(w, r, http.StatusOK, keys)
}

// Create handles POST /v1/applications/{id}/keys. An empty body issues an
// unlabelled key without expiry.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	appID := chi.URLParam(r, "id")
	key, err := h.keys.IssueKey(r.Context(), appID, auth.IssueOptions{
		Label:     req.Name,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "api key issued via api",
		"application_id", appID,
		"key_id", key.KeyID,
		"key_prefix", key.Prefix,
	)
	core.Data(w, r, http.StatusCreated, key)
}

// Revoke handles DELETE /v1/applications/{id}/keys/{keyID}. Revocation
// takes effect for the next validation.
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	appID, keyID := chi.URLParam(r, "id"), chi.URLParam(r, "keyID")
	if err := h.keys.RevokeApplicationKey(r.Context(), appID, keyID); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "api key revoked via api",
		"application_id", appID,
		"key_id", keyID,
		"actor", actorID(r.Context()),
	)
	core.NoContent(w)
}

func actorID(ctx context.Context) string {
	if a, ok := types.GetActor(ctx); ok {
		return a.ID
	}
	return ""
}
