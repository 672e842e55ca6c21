// Package service holds the business logic between the HTTP handlers and the
// repositories.
//
//	Handler (HTTP) → Service (business rules) → Repository (DB)
//
// Services never see an http.Request and never choose a status code. They
// return *apperror.AppError values and the handler layer maps those to HTTP
// in one place.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/auth"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/repository"
)

const (
	maxNameLen  = 100
	maxImageLen = 500
)

// AuthService handles sign-in.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users     repository.UserRepository → find/create user records
//   - sessions  *SessionService           → materialize role, issue sessions
//   - logger    *slog.Logger              → structured logging
type AuthService struct {
	users    repository.UserRepository
	sessions *SessionService
	logger   *slog.Logger
}

func NewAuthService(users repository.UserRepository, sessions *SessionService, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		logger:   logger,
	}
}

// AuthResult bundles what the callback handler needs to finish sign-in.
type AuthResult struct {
	User    *model.User
	Session *model.Session
	Token   string
}

// LoginOrRegisterGoogle handles the Google OAuth callback.
//
//  1. Find the user by email, or create it with role "user"
//  2. Refresh name/picture if Google reports new ones
//  3. Materialize (applies the admin allow-list on first sign-in only)
//  4. Create a session and sign its token
//
// WHAT THIS METHOD DOES NOT DO:
//   - It does NOT set cookies (that's the handler's job, an HTTP concern)
//   - It does NOT read HTTP requests
func (s *AuthService) LoginOrRegisterGoogle(ctx context.Context, gUser *auth.GoogleUser) (*AuthResult, error) {
	if gUser == nil || strings.TrimSpace(gUser.Email) == "" {
		return nil, fmt.Errorf("service/auth: Google user must have an email")
	}

	user, err := s.findOrCreate(ctx, gUser)
	if err != nil {
		return nil, err
	}

	user, err = s.sessions.Materialize(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	session, token, err := s.sessions.CreateSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed in via Google",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
		slog.String("role", user.Role.String()),
	)

	return &AuthResult{User: user, Session: session, Token: token}, nil
}

func (s *AuthService) findOrCreate(ctx context.Context, gUser *auth.GoogleUser) (*model.User, error) {
	name := truncate(strings.TrimSpace(gUser.Name), maxNameLen)
	image := gUser.Picture
	if len(image) > maxImageLen {
		image = ""
	}

	user, err := s.users.GetUserByEmail(ctx, gUser.Email)
	switch {
	case err == nil:
		if user.Name != name || user.Image != image {
			user.Name, user.Image = name, image
			if err := s.users.UpdateProfile(ctx, user); err != nil {
				return nil, apperror.Classify("sign in", err)
			}
		}
		return user, nil

	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			Name:  name,
			Email: gUser.Email,
			Image: image,
			Role:  model.RoleUser,
		}
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				// Two first sign-ins raced; the other one created the row.
				user, err = s.users.GetUserByEmail(ctx, gUser.Email)
				if err != nil {
					return nil, apperror.Classify("sign in", err)
				}
				return user, nil
			}
			return nil, apperror.Classify("sign in", err)
		}
		s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("email", user.Email))
		return user, nil

	default:
		return nil, apperror.Classify("sign in", err)
	}
}

// Me returns the profile of an already-resolved identity.
func (s *AuthService) Me(ctx context.Context, id *auth.Identity) (*model.User, error) {
	if id == nil {
		return nil, apperror.Unauthenticated("valid authentication required")
	}
	user, err := s.users.GetUserByID(ctx, id.UserID)
	if err != nil {
		return nil, apperror.Classify("me", err)
	}
	return user, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
