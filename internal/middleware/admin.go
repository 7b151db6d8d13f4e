package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"bizledger/internal/store"
)

type RoleStore interface {
	Role(ctx context.Context, userID string) (string, bool, error)
}

// RequireAdmin lets through admins holding one of roles. Super admins pass
// every check; with no roles listed any admin passes.
func RequireAdmin(roles RoleStore, allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			role, isAdmin, err := roles.Role(r.Context(), userID)
			if err != nil {
				slog.Error("admin role lookup failed", "user_id", userID, "error", err)
				writeError(w, http.StatusInternalServerError, "unable to verify admin")
				return
			}
			if !isAdmin {
				writeError(w, http.StatusForbidden, "admin privileges required")
				return
			}
			if role != store.RoleSuper && len(allowed) > 0 && !slices.Contains(allowed, role) {
				writeError(w, http.StatusForbidden, "missing required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
