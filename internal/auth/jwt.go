// Package auth provides session tokens, the Google sign-in provider, and the
// HTTP middleware that turns a request cookie into an authenticated Identity.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. User visits /auth/google/login → redirected to Google
//  2. Google calls back /auth/google/callback with a code
//  3. Server exchanges the code for the Google profile, finds or creates the
//     user, materializes its role and stores a session row
//  4. Server signs a JWT naming that session and puts it in an HttpOnly cookie
//  5. On every request, middleware validates the JWT, loads the session row
//     and re-reads the user's role from the database
//
// WHY A JWT *AND* A SESSION ROW?
// The JWT proves the cookie was issued by us (signature) and carries the
// session id (jti) and user id (sub). The session row is what makes the token
// revocable: when an admin changes someone's role we delete that user's
// session rows, and every token pointing at them stops working immediately.
// The role claim inside the JWT is only a hint; authorization never trusts it.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"userID","jti":"sessionID","role":"admin","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/reviewly/internal/model"
)

const issuer = "reviewly"

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens.
// The same secret must be used for both operations.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// Claims is what a valid token tells us about its bearer.
type Claims struct {
	UserID    string
	SessionID string
	Role      model.Role // as of signing; may be stale
	ExpiresAt time.Time
}

// claims is the JWT payload. "sub" holds the user ID and "jti" the session ID.
type claims struct {
	Role model.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Generate signs a token for the given session. The token expires with the
// session.
//
// Signing algorithm: HS256 (HMAC-SHA256)
// - Symmetric: same key for signing and verifying
// - Fast and simple, good for single-server deployments
func (s *TokenService) Generate(session *model.Session) (string, error) {
	if session == nil || session.ID == "" || session.UserID == "" {
		return "", errors.New("auth: session must have an ID and a user ID")
	}

	c := claims{
		Role: session.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired (ExpiresAt is in the future)
//   - Issuer matches "reviewly" (prevents tokens from other apps)
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// A valid token is necessary but not sufficient: the caller must still look
// up the session row named by Claims.SessionID.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}
	if c.ID == "" {
		return nil, fmt.Errorf("auth: token has no session id")
	}

	return &Claims{
		UserID:    c.Subject,
		SessionID: c.ID,
		Role:      c.Role,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
