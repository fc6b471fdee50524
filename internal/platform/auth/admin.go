package auth

import (
	"net/http"

	"github.com/madhav-relish/streaming/internal/platform/api"
)

const RoleAdmin = "admin"

// RequireAdmin must sit behind RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFrom(r.Context()); !ok || !id.IsAdmin() {
			api.Fail(w, r, api.Forbidden("FORBIDDEN", "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
