// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is a principal's authorization level.
//
// WHY A NAMED STRING TYPE?
// A plain string would let any value slip through ("Admin", "root", "").
// A named type documents intent at every call site, and Valid() gives one
// place to check membership of the closed set {user, admin}.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

func (r Role) String() string {
	return string(r)
}

// User represents a registered account (a "principal").
//
// Google is the identity provider, so the stable external key is the email
// address. It is stored lower-cased so lookups are case-insensitive. We still
// generate our own internal ID (xid) rather than keying on the email, so an
// account keeps its identity even if we add another provider later.
//
// WHY Bootstrapped?
// The admin allow-list in the config is a creation-time default, not a
// standing override. The first materialization of a new account applies it
// and flips Bootstrapped to true. From then on the stored Role always wins,
// so an administrator can demote an allow-listed account and it stays demoted.
type User struct {
	ID           string    `json:"id"           db:"id"`
	Name         string    `json:"name"         db:"name"`
	Email        string    `json:"email"        db:"email"`
	Image        string    `json:"image"        db:"image"` // Profile picture URL (may be empty)
	Role         Role      `json:"role"         db:"role"`
	Bootstrapped bool      `json:"-"            db:"bootstrapped"`
	CreatedAt    time.Time `json:"createdAt"    db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"    db:"updated_at"`
}

// IsAdmin reports whether the user currently holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
