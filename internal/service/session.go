package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/auth"
	"github.com/sakif/reviewly/internal/metrics"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/repository"
)

// SessionService keeps a caller's authorization in step with the database.
//
// THE RULE:
// The users table holds the only authoritative role. A session row (and the
// JWT that names it) caches that role, but nothing ever authorizes from the
// cache: Resolve re-reads the user on every request. When an admin changes
// or removes a user, Invalidate deletes that user's sessions so the next
// request has to sign in again.
//
// THE ALLOW-LIST:
// Emails in the configured admin list become admin on their FIRST
// materialization only. The user row carries a "bootstrapped" flag that is
// flipped in the same statement that applies the default, so the list is
// never consulted again for that user. An admin who demotes an allow-listed
// user therefore stays in control.
type SessionService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *auth.TokenService
	admins   map[string]struct{}
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionService wires a SessionService. adminEmails are matched
// case-insensitively; the slice is copied.
func NewSessionService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *auth.TokenService,
	adminEmails []string,
	ttl time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SessionService {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		admins[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &SessionService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		admins:   admins,
		ttl:      ttl,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// compile-time check that SessionService satisfies the auth middleware
var _ auth.SessionResolver = (*SessionService)(nil)

// Materialize returns the user with its current role, applying the
// allow-list default if this is the user's first materialization.
func (s *SessionService) Materialize(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, apperror.Classify("materialize", err)
	}
	if user.Bootstrapped {
		return user, nil
	}

	role := user.Role
	if _, listed := s.admins[strings.ToLower(user.Email)]; listed {
		role = model.RoleAdmin
	}

	applied, err := s.users.Bootstrap(ctx, user.ID, role)
	if err != nil {
		return nil, apperror.Classify("materialize", err)
	}
	if !applied {
		// Someone else bootstrapped it between our read and write.
		user, err = s.users.GetUserByID(ctx, userID)
		if err != nil {
			return nil, apperror.Classify("materialize", err)
		}
		return user, nil
	}

	if role != user.Role {
		s.logger.Info("allow-listed user bootstrapped as admin",
			slog.String("userID", user.ID),
			slog.String("email", user.Email),
		)
	}
	user.Role = role
	user.Bootstrapped = true
	return user, nil
}

// CreateSession stores a new session for user and returns it with its
// signed token.
func (s *SessionService) CreateSession(ctx context.Context, user *model.User) (*model.Session, string, error) {
	session := &model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, "", apperror.Classify("create session", err)
	}

	token, err := s.tokens.Generate(session)
	if err != nil {
		return nil, "", fmt.Errorf("service/session: signing token for %s: %w", user.ID, err)
	}
	return session, token, nil
}

// Resolve maps a token to the caller's identity. It is called by the auth
// middleware on every authenticated request.
//
// Any token that no longer corresponds to a live session for an existing
// user yields Unauthenticated. Store failures yield StoreUnavailable.
func (s *SessionService) Resolve(ctx context.Context, token string) (*auth.Identity, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid or expired session")
	}

	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("session expired or revoked")
		}
		return nil, apperror.Classify("resolve session", err)
	}
	if session.UserID != claims.UserID {
		return nil, apperror.Unauthenticated("session does not match token")
	}
	if session.Expired(s.now()) {
		s.dropSession(ctx, session.ID)
		return nil, apperror.Unauthenticated("session expired")
	}

	user, err := s.Materialize(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.dropSession(ctx, session.ID)
			return nil, apperror.Unauthenticated("account no longer exists")
		}
		return nil, err
	}

	// Keep the cached claim honest. Authorization below uses user.Role
	// regardless, so a failure here only costs a log line.
	if session.Role != user.Role {
		if err := s.sessions.UpdateSessionRole(ctx, session.ID, user.Role); err != nil {
			s.logger.Warn("refreshing session role claim failed",
				slog.String("sessionID", session.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &auth.Identity{
		UserID:    user.ID,
		SessionID: session.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
	}, nil
}

// Invalidate deletes every session of userID.
//
// A failure here never undoes the mutation that triggered it. It is logged
// as SessionInvalidationDegraded and counted; the stale session then lives
// until it expires or its user signs in again. The error is still returned
// so callers can tell, but they must not fail the operation on it.
func (s *SessionService) Invalidate(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.DeleteSessionsByUser(ctx, userID)
	if err != nil {
		s.metrics.SessionInvalidationDegraded()
		s.logger.Warn("SessionInvalidationDegraded",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	s.metrics.SessionsInvalidated(n)
	if n > 0 {
		s.logger.Info("sessions invalidated",
			slog.String("userID", userID),
			slog.Int64("count", n),
		)
	}
	return n, nil
}

// Logout deletes the session named by token. Unknown or invalid tokens are
// not an error: the caller is logged out either way.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, claims.SessionID); err != nil {
		return apperror.Classify("logout", err)
	}
	return nil
}

func (s *SessionService) dropSession(ctx context.Context, id string) {
	if err := s.sessions.DeleteSession(ctx, id); err != nil {
		s.logger.Warn("deleting dead session failed",
			slog.String("sessionID", id),
			slog.String("error", err.Error()),
		)
	}
}
