package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "last_admin_protected", "message": "cannot demote the last admin"}
//
// Validation errors also name the offending field:
//   {"error": "invalid_input", "message": "email is required", "field": "email"}
//
// The "error" value is the machine-readable code from apperror, so the admin
// UI can switch on it without parsing messages.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/reviewly/internal/apperror"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable code (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input field, for invalid_input
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once Encode
// writes, the headers are on the wire and later changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an apperror code to its HTTP status.
//
// WHY HERE AND NOT IN THE SERVICE?
// The service layer does not know it is behind HTTP. It says "last admin
// protected"; this table decides that means 409.
var statusFor = map[string]int{
	apperror.CodeInvalidInput:     http.StatusBadRequest,
	apperror.CodeInvalidRole:      http.StatusBadRequest,
	apperror.CodeSelfModification: http.StatusBadRequest,
	apperror.CodeUnauthenticated:  http.StatusUnauthorized,
	apperror.CodeForbidden:        http.StatusForbidden,
	apperror.CodeNotFound:         http.StatusNotFound,
	apperror.CodeConflict:         http.StatusConflict,
	apperror.CodeLastAdmin:        http.StatusConflict,
	apperror.CodeStoreUnavailable: http.StatusServiceUnavailable,
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// errors.As() walks the chain (via Unwrap) and fills appErr if any layer is
// an *apperror.AppError; apperror.Code does the same with errors.Is for the
// sentinel. Anything unrecognised is a 500 with a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// NEVER expose internal error details to the client.
		logger.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   apperror.CodeInternal,
			Message: "An internal error occurred",
		})
		return
	}

	code := apperror.Code(err)
	status, ok := statusFor[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		attrs := []any{slog.String("code", code), slog.String("message", appErr.Message)}
		if appErr.Cause != nil {
			attrs = append(attrs, slog.String("cause", appErr.Cause.Error()))
		}
		logger.Error("request failed", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a single JSON object from the request body into dst.
// Unknown fields and trailing data are rejected as invalid input.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", "invalid JSON body: "+err.Error())
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}
	return nil
}
