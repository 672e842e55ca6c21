package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/model"
)

// CookieName is the cookie that carries the session JWT.
const CookieName = "token"

// Identity is the authenticated caller of a request, with the role freshly
// read from the database (never taken from the token).
type Identity struct {
	UserID    string     `json:"userId"`
	SessionID string     `json:"-"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      model.Role `json:"role"`
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == model.RoleAdmin
}

// SessionResolver turns a raw token into an Identity. The session service
// implements it; it returns an Unauthenticated apperror for any token that
// no longer maps to a live session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A package-private type means
// only THIS package can create the key, so nobody else can read or shadow
// the identity stored in the context.
type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller set by RequireAuth, or nil for an
// anonymous request.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the JWT from the "token" HttpOnly cookie (or an
// "Authorization: Bearer" header for API clients), resolves it to a live
// session and stores the Identity in the request context. Missing, invalid,
// expired or revoked sessions get 401 and stop the chain.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				writeDenied(w, apperror.Unauthenticated("valid authentication required"))
				return
			}

			id, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				writeDenied(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// TokenFromRequest extracts the raw session token, preferring the cookie.
// It returns "" when the request carries none.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// writeDenied writes the same {"error","message"} body the handlers use.
func writeDenied(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperror.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}

	message := "An internal error occurred"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   apperror.Code(err),
		"message": message,
	})
}
