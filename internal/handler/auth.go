package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/auth"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/service"
)

const (
	stateCookieName = "oauth_state"
	afterLoginPath  = "/dashboard"
)

// OAuthProvider is the part of auth.GoogleProvider the handler uses.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleUser, error)
}

// SignInService is the part of service.AuthService the handler uses.
type SignInService interface {
	LoginOrRegisterGoogle(ctx context.Context, gUser *auth.GoogleUser) (*service.AuthResult, error)
	Me(ctx context.Context, id *auth.Identity) (*model.User, error)
}

// SessionEnder ends the session named by a token.
type SessionEnder interface {
	Logout(ctx context.Context, token string) error
}

// AuthHandler manages the Google OAuth login flow and session management.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGoogleLogin    → redirect the browser to Google's consent page
//   - HandleGoogleCallback → receive the code, sign the user in, set the cookie
//   - HandleLogout         → delete the session row and clear the cookie
//   - HandleMe             → return the currently signed-in user's profile
//
// DEPENDENCY CHAIN:
//   - google   OAuthProvider → performs the OAuth code exchange (nil = disabled)
//   - signIn   SignInService → find/create user, materialize role, issue session
//   - sessions SessionEnder  → server-side logout
type AuthHandler struct {
	google       OAuthProvider
	signIn       SignInService
	sessions     SessionEnder
	cookieTTL    time.Duration
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. Pass a nil google provider when
// Google sign-in is not configured; the login routes then answer 503.
func NewAuthHandler(
	google OAuthProvider,
	signIn SignInService,
	sessions SessionEnder,
	cookieTTL time.Duration,
	secureCookie bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		google:       google,
		signIn:       signIn,
		sessions:     sessions,
		cookieTTL:    cookieTTL,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// HandleGoogleLogin redirects the user to Google's authorization page.
//
// HTTP: GET /auth/google/login
//
// CSRF PROTECTION VIA STATE:
// A random state value goes into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds when the two match, which
// proves the flow was started by this browser on this server.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		http.Error(w, "Google sign-in is not configured", http.StatusServiceUnavailable)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the OAuth login flow.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a verified Google profile
//  3. Sign in: find/create the user, materialize its role, create a session
//  4. Store the session token in an HttpOnly cookie
//  5. Redirect to the dashboard
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		http.Error(w, "Google sign-in is not configured", http.StatusServiceUnavailable)
		return
	}

	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for the Google profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	gUser, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: Google exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	// --- Step 3: Sign in ---
	result, err := h.signIn.LoginOrRegisterGoogle(r.Context(), gUser)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed",
			slog.String("email", gUser.Email),
			slog.String("error", err.Error()),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, apperror.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "authentication failed", status)
		return
	}

	// --- Step 4: Session cookie ---
	// HttpOnly = JavaScript cannot read this cookie (XSS protection).
	// SameSite=Lax = sent on top-level navigations, not on cross-site POSTs.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	// --- Step 5: Redirect to the app ---
	http.Redirect(w, r, afterLoginPath, http.StatusSeeOther)
}

// HandleLogout deletes the server-side session and clears the cookie.
//
// HTTP: POST /auth/logout
//
// WHY POST AND NOT GET?
// Logout changes state. A GET could be triggered by a prefetching browser or
// an <img> tag on another site.
//
// Sessions live in the database, so the token stops working the moment its
// row is gone, even if a copy of the cookie survives somewhere.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		if err := h.sessions.Logout(r.Context(), token); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/me
// Auth: Required (RequireAuth has resolved the session)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())

	user, err := h.signIn.Me(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
