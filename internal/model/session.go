package model

import "time"

// Session is a server-held sign-in record.
//
// The browser only ever holds a signed JWT whose "jti" claim is the session
// ID. Deleting the row is therefore enough to sign the user out everywhere,
// which is how role changes force a fresh claim.
//
// Role is a cached copy of the user's role captured when the session was
// last materialized. It is never trusted for authorization decisions; the
// authoritative value is always re-read from the users table.
type Session struct {
	ID        string    `json:"id"        db:"id"`
	UserID    string    `json:"userId"    db:"user_id"` // weak reference, no FK
	Role      Role      `json:"role"      db:"role"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Expired reports whether the session is past its expiry at time now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
