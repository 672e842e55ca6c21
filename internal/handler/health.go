// Package handler contains the HTTP handlers for the JSON API.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, body, URL params)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers hold no business rules. Every decision (who may change whose role,
// what a valid contact message looks like) lives in internal/service and
// internal/policy; a handler only translates between HTTP and those calls.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks that a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and readiness.
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HandleHealth answers 200 while the process is up.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady answers 200 only when the database responds.
//
// HTTP: GET /readyz
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
