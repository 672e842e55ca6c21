package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/reviewly/internal/auth"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/service"
)

// AdminService is everything the admin API needs from the service layer.
// *service.AdminService satisfies it.
type AdminService interface {
	ListUsers(ctx context.Context, q service.PageQuery) (*service.UserPage, error)
	ResolveUser(ctx context.Context, ref string) (*model.User, error)
	ChangeRole(ctx context.Context, actorID, targetID string, role model.Role) (*service.RoleChangeResult, error)
	DeletePrincipal(ctx context.Context, actorID, targetID string) error
	BatchChangeRoles(ctx context.Context, actorID string, changes []service.RoleChange) (*service.BatchResult, error)
	ListContacts(ctx context.Context, q service.PageQuery) (*service.ContactPage, error)
	DeleteContact(ctx context.Context, actorID, id string) error
	Stats(ctx context.Context) (*service.Stats, error)
}

// AdminHandler serves /api/admin. Every route is mounted behind
// auth.RequireAuth and auth.RequireAdmin, so the identity in the context is
// always an admin by the time a method here runs.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

// Routes returns the admin sub-router.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/users", h.HandleListUsers)
	r.Patch("/users", h.HandleChangeRole)
	r.Delete("/users", h.HandleDeleteUser)
	r.Put("/users/batch", h.HandleBatch)
	r.Get("/users/{ref}", h.HandleGetUser)
	r.Get("/contacts", h.HandleListContacts)
	r.Delete("/contacts", h.HandleDeleteContact)
	r.Get("/stats", h.HandleStats)
	return r
}

func actorID(r *http.Request) string {
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		return id.UserID
	}
	return ""
}

// pageQuery reads the list parameters. Malformed numbers fall back to the
// defaults instead of failing the request.
func pageQuery(r *http.Request) service.PageQuery {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	return service.PageQuery{
		Page:      page,
		PageSize:  size,
		Search:    q.Get("search"),
		SortField: q.Get("sortField"),
		SortOrder: q.Get("sortOrder"),
	}
}

// =========================================================================
// USERS
// =========================================================================

// HandleListUsers returns one page of users.
//
// HTTP: GET /api/admin/users?page=1&pageSize=10&search=ann&sortField=email&sortOrder=asc
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := h.admin.ListUsers(r.Context(), pageQuery(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleGetUser looks a user up by id or email.
//
// HTTP: GET /api/admin/users/{ref}
func (h *AdminHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.admin.ResolveUser(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type changeRoleRequest struct {
	UserID string     `json:"userId"`
	Role   model.Role `json:"role"`
}

// HandleChangeRole sets one user's role.
//
// HTTP: PATCH /api/admin/users
// REQUEST BODY: {"userId": "...", "role": "admin"}
func (h *AdminHandler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.admin.ChangeRole(r.Context(), actorID(r), req.UserID, req.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type deleteUserRequest struct {
	UserID string `json:"userId"`
}

// HandleDeleteUser removes a user and all of its sessions.
//
// HTTP: DELETE /api/admin/users
// REQUEST BODY: {"userId": "..."}
func (h *AdminHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req deleteUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.admin.DeletePrincipal(r.Context(), actorID(r), req.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

type batchRequest struct {
	Changes []service.RoleChange `json:"changes"`
}

// HandleBatch applies several role changes in order.
//
// HTTP: PUT /api/admin/users/batch
// REQUEST BODY: {"changes": [{"userId": "...", "role": "user"}, ...]}
//
// STATUS CODES:
//   - 200 every entry succeeded
//   - 207 Multi-Status, some entries failed (see results[i].code)
//   - 400 the batch itself was malformed; nothing was applied
func (h *AdminHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.admin.BatchChangeRoles(r.Context(), actorID(r), req.Changes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if !result.OverallSuccess {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

// =========================================================================
// CONTACTS AND STATS
// =========================================================================

// HandleListContacts returns one page of contact messages.
//
// HTTP: GET /api/admin/contacts?page&pageSize&search&sortField&sortOrder
func (h *AdminHandler) HandleListContacts(w http.ResponseWriter, r *http.Request) {
	page, err := h.admin.ListContacts(r.Context(), pageQuery(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type deleteContactRequest struct {
	ContactID string `json:"contactId"`
}

// HandleDeleteContact removes one contact message.
//
// HTTP: DELETE /api/admin/contacts
// REQUEST BODY: {"contactId": "..."}
func (h *AdminHandler) HandleDeleteContact(w http.ResponseWriter, r *http.Request) {
	var req deleteContactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.admin.DeleteContact(r.Context(), actorID(r), req.ContactID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "contact deleted"})
}

// HandleStats returns dashboard counters.
//
// HTTP: GET /api/admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
