package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"herald/internal/core"
	"herald/internal/types"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// DeadLetterLister reads dead letters, newest first. An empty
// applicationID lists across tenants.
type DeadLetterLister interface {
	List(ctx context.Context, applicationID string, limit int) ([]*types.DeadLetter, error)
}

type DeadLetterHandler struct {
	store  DeadLetterLister
	logger *slog.Logger
}

func NewDeadLetterHandler(store DeadLetterLister, l *slog.Logger) *DeadLetterHandler {
	if l == nil {
		l = slog.Default()
	}
	return &DeadLetterHandler{store: store, logger: l}
}

func (h *DeadLetterHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
}

// List handles GET /v1/dead-letters?application_id=&limit=.
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appID := q.Get("application_id")
	if appID != "" {
		if err := types.ValidateIdentifier(appID); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	limit := defaultDeadLetterLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxDeadLetterLimit {
			core.Error(w, r, types.NewFieldError(types.ErrCodeValidationInvalidField, "limit",
				"must be a number between 1 and "+strconv.Itoa(maxDeadLetterLimit)))
			return
		}
		limit = n
	}

	items, err := h.store.List(r.Context(), appID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.DeadLetter{}
	}
	core.Data(w, r, http.StatusOK, items)
}
