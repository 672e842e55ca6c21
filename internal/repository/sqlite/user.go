package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, name, email, image, role, bootstrapped, created_at, updated_at`

// userSortColumns maps API sort fields to columns.
var userSortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"name":      "name",
	"email":     "email",
	"role":      "role",
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Image,
		&u.Role,
		&u.Bootstrapped,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user. ID and timestamps are generated here; the email
// is stored lower-cased. A missing role defaults to "user".
// Returns apperror.ErrConflict if the email is already registered.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleUser
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, image, role, bootstrapped, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		user.Image,
		user.Role,
		user.Bootstrapped,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user (email=%s): %w", user.Email, err)
	}

	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email %s: %w", email, err)
	}
	return u, nil
}

// UpdateProfile refreshes the provider-owned profile fields.
func (db *DB) UpdateProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET name = ?, image = ?, updated_at = ? WHERE id = ?`,
		user.Name,
		user.Image,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile %s: %w", user.ID, err)
	}
	return requireAffected(result, "user", user.ID)
}

// CountByRole counts users with the given role, or all users when role is "".
func (db *DB) CountByRole(ctx context.Context, role model.Role) (int, error) {
	var (
		count int
		err   error
	)
	if role == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	} else {
		err = db.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE role = ?`, role).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting users (role=%q): %w", role, err)
	}
	return count, nil
}

// UpdateRole sets a user's role and returns the role it held before.
//
// COMPARE-AND-SWAP:
// The UPDATE only applies while the row still holds the role we just read,
// and a demotion of an admin only applies while some OTHER admin exists.
// Both conditions live in the WHERE clause, so the check and the write are
// one atomic statement. When nothing was written we re-read the row to tell
// the caller why:
//
//	row gone             → NotFound
//	role moved under us  → Conflict (a concurrent change won; caller may retry)
//	otherwise            → LastAdmin
//
// Setting a role the user already has is a no-op: nothing is written and
// updated_at is left alone.
func (db *DB) UpdateRole(ctx context.Context, id string, role model.Role) (model.Role, error) {
	current, err := db.GetUserByID(ctx, id)
	if err != nil {
		return "", err
	}
	if current.Role == role {
		return current.Role, nil
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ?
		 WHERE id = ?
		   AND role = ?
		   AND (role <> 'admin'
		        OR EXISTS (SELECT 1 FROM users other
		                   WHERE other.role = 'admin' AND other.id <> users.id))`,
		role,
		time.Now(),
		id,
		current.Role,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: updating role of %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		return current.Role, nil
	}

	after, err := db.GetUserByID(ctx, id)
	if err != nil {
		return "", err
	}
	if after.Role != current.Role {
		return "", apperror.Conflict("user", id)
	}
	return "", apperror.LastAdmin("cannot demote the last admin")
}

// Bootstrap applies the creation-time role exactly once.
func (db *DB) Bootstrap(ctx context.Context, id string, role model.Role) (bool, error) {
	now := time.Now()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET bootstrapped = 1,
		     updated_at = CASE WHEN role <> ? THEN ? ELSE updated_at END,
		     role = ?
		 WHERE id = ? AND bootstrapped = 0`,
		role, now, role, id,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: bootstrapping user %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// Either already bootstrapped or gone. Tell the two apart.
	if _, err := db.GetUserByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteUser removes a user unless it is the only admin.
// Same single-statement guard as UpdateRole.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM users
		 WHERE id = ?
		   AND (role <> 'admin'
		        OR EXISTS (SELECT 1 FROM users other
		                   WHERE other.role = 'admin' AND other.id <> users.id))`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := db.GetUserByID(ctx, id); err != nil {
		return err
	}
	return apperror.LastAdmin("cannot delete the last admin")
}

// ListUsers returns one page of users filtered by a case-insensitive
// substring of name or email.
func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) (*repository.Page[model.User], error) {
	where := ""
	var args []any
	if opts.Search != "" {
		where = `WHERE LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\'`
		p := likePattern(opts.Search)
		args = append(args, p, p)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: counting users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ` + where + ` ` +
		orderBy(userSortColumns, opts.SortField, "created_at", opts.SortOrder != repository.SortAsc) +
		` LIMIT ? OFFSET ?`
	rows, err := db.conn.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, opts.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return &repository.Page[model.User]{Items: users, Total: total}, nil
}

// requireAffected turns "0 rows affected" into a NotFound error.
func requireAffected(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
