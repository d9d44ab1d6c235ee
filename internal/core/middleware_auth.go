package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"herald/internal/types"
)

// BearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is case-insensitive. It returns "" when absent or malformed.
func BearerToken(r *http.Request) string {
	return extractBearerToken(r.Header.Get("Authorization"))
}

func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireBearer rejects requests without a bearer token. Tenant routes use
// it ahead of key validation in the service layer.
func RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if BearerToken(r) == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing bearer token", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin authenticates the operator by comparing the bearer token
// with adminKey in constant time. Both sides are hashed first so the
// comparison does not leak the key length.
func RequireAdmin(adminKey types.SecretString, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	want := sha256.Sum256([]byte(adminKey.Unmask()))
	configured := !adminKey.IsZero()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing bearer token", nil))
				return
			}
			got := sha256.Sum256([]byte(token))
			if !configured || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				logger.WarnContext(r.Context(), "admin authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin credentials", nil))
				return
			}
			ctx := types.WithActor(r.Context(), types.Actor{ID: "admin", Type: types.ActorTypeOperator})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
