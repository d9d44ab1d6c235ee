package handlers

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"herald/internal/core"
	"herald/internal/types"
)

// Routes bundles the handlers mounted under /v1.
type Routes struct {
	AdminKey      types.SecretString
	Logger        *slog.Logger
	Applications  *ApplicationHandler
	Keys          *KeyHandler
	Notifications *NotificationHandler
	DeadLetters   *DeadLetterHandler
}

// Register mounts admin routes behind the admin key and tenant routes
// behind a bearer check. It is a core.Server V1 route registrar.
func (rt Routes) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(core.RequireAdmin(rt.AdminKey, rt.Logger))
		r.Route("/applications", func(r chi.Router) {
			if rt.Applications != nil {
				rt.Applications.RegisterRoutes(r)
			}
			if rt.Keys != nil {
				r.Route("/{id}/keys", rt.Keys.RegisterRoutes)
			}
		})
		if rt.DeadLetters != nil {
			r.Route("/dead-letters", rt.DeadLetters.RegisterRoutes)
		}
	})

	if rt.Notifications != nil {
		r.Group(func(r chi.Router) {
			r.Use(core.RequireBearer)
			r.Route("/notifications", rt.Notifications.RegisterRoutes)
		})
	}
}
