package auth

import (
	"net/http"

	"github.com/sakif/reviewly/internal/apperror"
)

// Authorize is the admin boundary check. It has no side effects.
//
//	no identity     → Unauthenticated
//	role != admin   → Forbidden
//	otherwise       → the identity, unchanged
//
// The identity's role must already be materialized from the database;
// RequireAuth guarantees that.
func Authorize(id *Identity) (*Identity, error) {
	if id == nil || id.UserID == "" {
		return nil, apperror.Unauthenticated("valid authentication required")
	}
	if !id.IsAdmin() {
		return nil, apperror.Forbidden("admin access required")
	}
	return id, nil
}

// RequireAdmin runs Authorize before every handler it wraps and
// short-circuits on denial. Mount it after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := Authorize(IdentityFromContext(r.Context())); err != nil {
			writeDenied(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
