// Package repository declares the record-store contracts the services depend
// on. Implementations live in sub-packages (see repository/sqlite).
//
// Every method is atomic at the single-row level only. The one exception is
// the role mutation pair (UpdateRole, DeleteUser), which must check the
// "another admin remains" condition and write in ONE statement so concurrent
// demotions cannot race the last admin away.
package repository

import (
	"context"

	"github.com/sakif/reviewly/internal/model"
)

// SortOrder is the direction of a paged scan.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListOptions configures a filtered, sorted, paginated scan.
// Implementations must only accept whitelisted SortField values.
type ListOptions struct {
	Limit     int
	Offset    int
	Search    string // case-insensitive substring filter; empty = no filter
	SortField string
	SortOrder SortOrder
}

// Page is one page of a scan plus the total number of matching rows.
type Page[T any] struct {
	Items []T
	Total int
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdateProfile refreshes name and image from the identity provider.
	// It never touches role.
	UpdateProfile(ctx context.Context, user *model.User) error
	// CountByRole counts principals holding role. Pass "" to count everyone.
	CountByRole(ctx context.Context, role model.Role) (int, error)
	// UpdateRole sets the role of user id and returns the role it held before.
	// Demoting an admin fails with apperror.ErrLastAdmin when no other admin
	// would remain; the check and the write are one atomic statement.
	UpdateRole(ctx context.Context, id string, role model.Role) (model.Role, error)
	// Bootstrap applies the creation-time role and marks the user
	// bootstrapped. It reports false when the user was already bootstrapped,
	// in which case nothing is written.
	Bootstrap(ctx context.Context, id string, role model.Role) (bool, error)
	// DeleteUser removes user id, failing with apperror.ErrLastAdmin when it
	// is the only admin.
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, opts ListOptions) (*Page[model.User], error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// UpdateSessionRole refreshes the cached role claim of one session.
	UpdateSessionRole(ctx context.Context, id string, role model.Role) error
	DeleteSession(ctx context.Context, id string) error
	// DeleteSessionsByUser removes every session bound to userID and returns
	// how many were deleted.
	DeleteSessionsByUser(ctx context.Context, userID string) (int64, error)
}

type ContactRepository interface {
	CreateContact(ctx context.Context, contact *model.Contact) error
	ListContacts(ctx context.Context, opts ListOptions) (*Page[model.Contact], error)
	DeleteContact(ctx context.Context, id string) error
	CountContacts(ctx context.Context) (int, error)
}
