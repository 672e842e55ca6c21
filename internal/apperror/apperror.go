// Package apperror defines the application's error taxonomy.
//
// Every failure a caller can act on is an *AppError wrapping one of the
// sentinel errors below. Callers branch with errors.Is (never by comparing
// messages) and transports map the sentinel to a status code in one place.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("Validation Error")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrSelfModification = errors.New("self modification forbidden")
	ErrLastAdmin        = errors.New("last admin protected")
	ErrInvalidRole      = errors.New("invalid role")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Machine-readable reason codes. These are part of the API contract: the
// admin UI switches on them, so never rename one.
const (
	CodeNotFound         = "not_found"
	CodeInvalidInput     = "invalid_input"
	CodeConflict         = "conflict"
	CodeForbidden        = "forbidden"
	CodeUnauthenticated  = "unauthenticated"
	CodeSelfModification = "self_modification_forbidden"
	CodeLastAdmin        = "last_admin_protected"
	CodeInvalidRole      = "invalid_role"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal_error"
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying driver error, for logs only
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// ValidationFailed is the InvalidInput kind: a malformed request that is
// rejected before any state changes.
func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated means no valid session accompanied the request.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// SelfModification is returned when an admin targets their own account.
func SelfModification(message string) *AppError {
	return &AppError{
		Err:     ErrSelfModification,
		Message: message,
	}
}

// LastAdmin is returned when an operation would leave zero admins.
func LastAdmin(message string) *AppError {
	return &AppError{
		Err:     ErrLastAdmin,
		Message: message,
	}
}

func InvalidRole(role string) *AppError {
	return &AppError{
		Err:     ErrInvalidRole,
		Message: fmt.Sprintf("invalid role %q: must be user or admin", role),
		Field:   "role",
	}
}

// StoreUnavailable wraps a failed record-store call. The cause is kept for
// logging but never shown to clients.
func StoreUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStoreUnavailable,
		Message: fmt.Sprintf("%s: record store unavailable, please retry", op),
		Cause:   cause,
	}
}

// Code returns the machine-readable reason code for err.
// Unknown errors map to CodeInternal.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrSelfModification):
		return CodeSelfModification
	case errors.Is(err, ErrLastAdmin):
		return CodeLastAdmin
	case errors.Is(err, ErrInvalidRole):
		return CodeInvalidRole
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	default:
		return CodeInternal
	}
}

// Classify returns err unchanged when it is already an *AppError and wraps it
// as StoreUnavailable otherwise. Services use it on every repository error so
// driver failures surface with a stable code.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return StoreUnavailable(op, err)
}
