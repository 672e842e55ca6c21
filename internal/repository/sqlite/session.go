package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/repository"
)

var _ repository.SessionRepository = (*DB)(nil)

// CreateSession stores a new session. The caller supplies the ID (it is
// also the JWT "jti"), so it can be signed before the row exists.
func (db *DB) CreateSession(ctx context.Context, s *model.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, role, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID,
		s.UserID,
		s.Role,
		s.ExpiresAt,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting session for user %s: %w", s.UserID, err)
	}
	return nil
}

func (db *DB) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, role, expires_at, created_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.UserID, &s.Role, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("session", id)
		}
		return nil, fmt.Errorf("sqlite: getting session %s: %w", id, err)
	}
	return &s, nil
}

func (db *DB) UpdateSessionRole(ctx context.Context, id string, role model.Role) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("sqlite: updating session %s: %w", id, err)
	}
	return requireAffected(result, "session", id)
}

// DeleteSession is idempotent: signing out twice is not an error.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting session %s: %w", id, err)
	}
	return nil
}

func (db *DB) DeleteSessionsByUser(ctx context.Context, userID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting sessions of user %s: %w", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
