package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/metrics"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/policy"
	"github.com/sakif/reviewly/internal/repository"
)

const (
	// MaxBatchSize caps one batch request.
	MaxBatchSize = 100

	// prefetchLimit caps the goroutines issued in the batch read phase.
	prefetchLimit = 8
)

// SessionInvalidator deletes a user's sessions. SessionService implements
// it; failures are already logged and counted by the implementation.
type SessionInvalidator interface {
	Invalidate(ctx context.Context, userID string) (int64, error)
}

// AdminService holds every operation behind /api/admin.
//
// MUTATION PIPELINE (single change, delete, and each batch entry):
//
//	read target + admin count → policy.Evaluate → conditional write → Invalidate
//
// The policy step produces the precise reason users see. The conditional
// write in the repository is the actual guarantee: it refuses to remove the
// last admin even if two requests passed the policy at the same moment.
type AdminService struct {
	users    repository.UserRepository
	contacts repository.ContactRepository
	sessions SessionInvalidator
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewAdminService(
	users repository.UserRepository,
	contacts repository.ContactRepository,
	sessions SessionInvalidator,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		users:    users,
		contacts: contacts,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}
}

// RoleChange is one requested change.
type RoleChange struct {
	UserID string     `json:"userId"`
	Role   model.Role `json:"role"`
}

// RoleChangeResult reports a committed (or no-op) change.
type RoleChangeResult struct {
	UserID       string     `json:"userId"`
	Email        string     `json:"email"`
	PreviousRole model.Role `json:"previousRole"`
	NewRole      model.Role `json:"newRole"`
}

// BatchOutcome is the result of one batch entry. Error and Code are set
// only when Success is false.
type BatchOutcome struct {
	UserID       string     `json:"userId"`
	Email        string     `json:"email,omitempty"`
	Success      bool       `json:"success"`
	PreviousRole model.Role `json:"previousRole,omitempty"`
	NewRole      model.Role `json:"newRole,omitempty"`
	Error        string     `json:"error,omitempty"`
	Code         string     `json:"code,omitempty"`
}

type BatchResult struct {
	Results        []BatchOutcome `json:"results"`
	OverallSuccess bool           `json:"overallSuccess"`
}

// Succeeded counts successful entries.
func (r *BatchResult) Succeeded() int {
	n := 0
	for _, o := range r.Results {
		if o.Success {
			n++
		}
	}
	return n
}

// =========================================================================
// SINGLE-ITEM OPERATIONS
// =========================================================================

// ChangeRole sets targetID's role on behalf of actorID.
// Denials come back as *apperror.AppError (SelfModification, LastAdmin,
// InvalidRole); a missing target is NotFound.
func (s *AdminService) ChangeRole(ctx context.Context, actorID, targetID string, role model.Role) (*RoleChangeResult, error) {
	if targetID == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}

	target, err := s.users.GetUserByID(ctx, targetID)
	if err != nil {
		s.metrics.RoleChange(apperror.Code(err))
		return nil, apperror.Classify("change role", err)
	}

	result, err := s.applyRoleChange(ctx, actorID, target, target.Role, role)
	if err != nil {
		s.metrics.RoleChange(apperror.Code(err))
		return nil, err
	}
	s.metrics.RoleChange("ok")
	return result, nil
}

// DeletePrincipal removes targetID on behalf of actorID and drops its
// sessions.
func (s *AdminService) DeletePrincipal(ctx context.Context, actorID, targetID string) error {
	err := s.deletePrincipal(ctx, actorID, targetID)
	if err != nil {
		s.metrics.PrincipalDeletion(apperror.Code(err))
		return err
	}
	s.metrics.PrincipalDeletion("ok")
	return nil
}

func (s *AdminService) deletePrincipal(ctx context.Context, actorID, targetID string) error {
	if targetID == "" {
		return apperror.ValidationFailed("userId", "userId is required")
	}

	target, err := s.users.GetUserByID(ctx, targetID)
	if err != nil {
		return apperror.Classify("delete user", err)
	}

	adminCount, err := s.users.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return apperror.Classify("delete user", err)
	}

	req := policy.Request{
		Op:         policy.OpDelete,
		ActorID:    actorID,
		TargetID:   target.ID,
		TargetRole: target.Role,
		AdminCount: adminCount,
	}
	if d := policy.Evaluate(req); !d.Allowed {
		s.logDenied(req, d)
		return d.Err(req)
	}

	if err := s.users.DeleteUser(ctx, target.ID); err != nil {
		return apperror.Classify("delete user", err)
	}

	s.logger.Info("user deleted",
		slog.String("actorID", actorID),
		slog.String("userID", target.ID),
		slog.String("email", target.Email),
	)

	// Error is logged and counted by the invalidator; the deletion stands.
	_, _ = s.sessions.Invalidate(ctx, target.ID)
	return nil
}

// applyRoleChange runs policy, write and invalidation for one target whose
// current role the caller already knows.
func (s *AdminService) applyRoleChange(ctx context.Context, actorID string, target *model.User, currentRole, role model.Role) (*RoleChangeResult, error) {
	adminCount, err := s.users.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return nil, apperror.Classify("change role", err)
	}

	req := policy.Request{
		Op:            policy.OpChangeRole,
		ActorID:       actorID,
		TargetID:      target.ID,
		TargetRole:    currentRole,
		RequestedRole: role,
		AdminCount:    adminCount,
	}
	if d := policy.Evaluate(req); !d.Allowed {
		s.logDenied(req, d)
		return nil, d.Err(req)
	}

	previous, err := s.users.UpdateRole(ctx, target.ID, role)
	if err != nil {
		return nil, apperror.Classify("change role", err)
	}

	if previous != role {
		s.logger.Info("role changed",
			slog.String("actorID", actorID),
			slog.String("userID", target.ID),
			slog.String("from", previous.String()),
			slog.String("to", role.String()),
		)
		// Error is logged and counted by the invalidator; the change stands.
		_, _ = s.sessions.Invalidate(ctx, target.ID)
	}

	return &RoleChangeResult{
		UserID:       target.ID,
		Email:        target.Email,
		PreviousRole: previous,
		NewRole:      role,
	}, nil
}

func (s *AdminService) logDenied(req policy.Request, d policy.Decision) {
	s.logger.Info("admin operation denied",
		slog.String("op", req.Op.String()),
		slog.String("actorID", req.ActorID),
		slog.String("userID", req.TargetID),
		slog.String("reason", string(d.Reason)),
	)
}

// =========================================================================
// BATCH
// =========================================================================

// BatchChangeRoles applies changes in order and reports one outcome per
// entry.
//
// PHASES:
//  1. Validate everything. Any malformed entry rejects the whole batch with
//     InvalidInput before the store is touched.
//  2. Read all targets (fanned out with errgroup; the first store error
//     aborts).
//  3. Commit strictly in list order. Each entry sees the roles written by
//     earlier entries and a freshly counted number of admins, so
//     [{B,user},{A,user}] with admins {A,B} demotes B and then refuses A.
//
// Entries are independent: a failed entry is reported and the batch moves
// on; nothing already committed is rolled back. A store failure during the
// read phase aborts the batch (nothing has been written yet).
func (s *AdminService) BatchChangeRoles(ctx context.Context, actorID string, changes []RoleChange) (*BatchResult, error) {
	if err := validateBatch(changes); err != nil {
		return nil, err
	}

	targets, err := s.prefetch(ctx, changes)
	if err != nil {
		return nil, err
	}

	// current tracks each target's role as of this point in the batch.
	current := make(map[string]model.Role, len(targets))
	for id, u := range targets {
		current[id] = u.Role
	}

	result := &BatchResult{Results: make([]BatchOutcome, 0, len(changes))}
	for _, c := range changes {
		outcome := BatchOutcome{UserID: c.UserID}

		target, found := targets[c.UserID]
		if !found {
			outcome.fail(apperror.NotFound("user", c.UserID))
			s.metrics.RoleChange(apperror.CodeNotFound)
			result.Results = append(result.Results, outcome)
			continue
		}
		outcome.Email = target.Email

		res, err := s.applyRoleChange(ctx, actorID, target, current[c.UserID], c.Role)
		if err != nil {
			outcome.fail(err)
			s.metrics.RoleChange(apperror.Code(err))
			result.Results = append(result.Results, outcome)
			continue
		}

		current[c.UserID] = res.NewRole
		outcome.Success = true
		outcome.PreviousRole = res.PreviousRole
		outcome.NewRole = res.NewRole
		s.metrics.RoleChange("ok")
		result.Results = append(result.Results, outcome)
	}

	result.OverallSuccess = result.Succeeded() == len(result.Results)

	s.logger.Info("batch role change finished",
		slog.String("actorID", actorID),
		slog.Int("entries", len(changes)),
		slog.Int("succeeded", result.Succeeded()),
	)
	return result, nil
}

func (o *BatchOutcome) fail(err error) {
	o.Success = false
	o.Code = apperror.Code(err)
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		o.Error = appErr.Message
	} else {
		o.Error = "internal error"
	}
}

func validateBatch(changes []RoleChange) error {
	if len(changes) == 0 {
		return apperror.ValidationFailed("changes", "at least one change is required")
	}
	if len(changes) > MaxBatchSize {
		return apperror.ValidationFailed("changes",
			fmt.Sprintf("at most %d changes per batch, got %d", MaxBatchSize, len(changes)))
	}
	for i, c := range changes {
		if strings.TrimSpace(c.UserID) == "" {
			return apperror.ValidationFailed(fmt.Sprintf("changes[%d].userId", i), "userId is required")
		}
		if !c.Role.Valid() {
			return apperror.ValidationFailed(fmt.Sprintf("changes[%d].role", i),
				fmt.Sprintf("invalid role %q: must be user or admin", c.Role))
		}
	}
	return nil
}

// prefetch fans the target reads out over an errgroup and collects the
// first error. The SQLite store serializes them on its single connection.
// Missing users are left out of the map; any other failure aborts.
func (s *AdminService) prefetch(ctx context.Context, changes []RoleChange) (map[string]*model.User, error) {
	var (
		mu      sync.Mutex
		targets = make(map[string]*model.User, len(changes))
		seen    = make(map[string]struct{}, len(changes))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchLimit)
	for _, c := range changes {
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}

		id := c.UserID
		g.Go(func() error {
			u, err := s.users.GetUserByID(gctx, id)
			if err != nil {
				if errors.Is(err, apperror.ErrNotFound) {
					return nil
				}
				return err
			}
			mu.Lock()
			targets[id] = u
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperror.Classify("batch change roles", err)
	}
	return targets, nil
}

// =========================================================================
// READS
// =========================================================================

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

var (
	userSortFields    = map[string]bool{"createdAt": true, "updatedAt": true, "name": true, "email": true, "role": true}
	contactSortFields = map[string]bool{"createdAt": true, "name": true, "email": true, "subject": true}
)

// PageQuery is a list request as it arrives from the client. Zero values
// are replaced by defaults.
type PageQuery struct {
	Page      int
	PageSize  int
	Search    string
	SortField string
	SortOrder string
}

// normalize clamps the page size to 1..100 (default 10), falls back to
// createdAt for unknown sort fields and to descending order for anything but
// "asc".
func (q PageQuery) normalize(allowed map[string]bool) (PageQuery, repository.ListOptions) {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize == 0:
		q.PageSize = defaultPageSize
	case q.PageSize < 1:
		q.PageSize = 1
	case q.PageSize > maxPageSize:
		q.PageSize = maxPageSize
	}
	if !allowed[q.SortField] {
		q.SortField = "createdAt"
	}
	order := repository.SortDesc
	if strings.EqualFold(q.SortOrder, "asc") {
		order = repository.SortAsc
	}
	q.SortOrder = string(order)
	q.Search = strings.TrimSpace(q.Search)

	return q, repository.ListOptions{
		Limit:     q.PageSize,
		Offset:    (q.Page - 1) * q.PageSize,
		Search:    q.Search,
		SortField: q.SortField,
		SortOrder: order,
	}
}

type UserPage struct {
	Users      []model.User `json:"users"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalPages int          `json:"totalPages"`
}

type ContactPage struct {
	Contacts   []model.Contact `json:"contacts"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
}

func totalPages(total, size int) int {
	return (total + size - 1) / size
}

func (s *AdminService) ListUsers(ctx context.Context, q PageQuery) (*UserPage, error) {
	q, opts := q.normalize(userSortFields)
	page, err := s.users.ListUsers(ctx, opts)
	if err != nil {
		return nil, apperror.Classify("list users", err)
	}
	return &UserPage{
		Users:      page.Items,
		Total:      page.Total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages(page.Total, q.PageSize),
	}, nil
}

// ResolveUser finds a user by id, or by email when ref is not an id.
func (s *AdminService) ResolveUser(ctx context.Context, ref string) (*model.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperror.ValidationFailed("ref", "user id or email is required")
	}

	var (
		user *model.User
		err  error
	)
	switch {
	case isUserID(ref):
		user, err = s.users.GetUserByID(ctx, ref)
	case strings.Contains(ref, "@"):
		user, err = s.users.GetUserByEmail(ctx, ref)
	default:
		return nil, apperror.NotFound("user", ref)
	}
	if err != nil {
		return nil, apperror.Classify("resolve user", err)
	}
	return user, nil
}

// isUserID reports whether ref has the shape of a generated user id.
func isUserID(ref string) bool {
	_, err := xid.FromString(ref)
	return err == nil
}

func (s *AdminService) ListContacts(ctx context.Context, q PageQuery) (*ContactPage, error) {
	q, opts := q.normalize(contactSortFields)
	page, err := s.contacts.ListContacts(ctx, opts)
	if err != nil {
		return nil, apperror.Classify("list contacts", err)
	}
	return &ContactPage{
		Contacts:   page.Items,
		Total:      page.Total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages(page.Total, q.PageSize),
	}, nil
}

func (s *AdminService) DeleteContact(ctx context.Context, actorID, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperror.ValidationFailed("contactId", "contactId is required")
	}
	if err := s.contacts.DeleteContact(ctx, id); err != nil {
		return apperror.Classify("delete contact", err)
	}
	s.logger.Info("contact deleted", slog.String("actorID", actorID), slog.String("contactID", id))
	return nil
}

type Stats struct {
	UserCount    int `json:"userCount"`
	AdminCount   int `json:"adminCount"`
	ContactCount int `json:"contactCount"`
}

// Stats issues the three counts through one errgroup and returns the first
// error. On the single-connection SQLite store they still run one at a time.
func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.users.CountByRole(gctx, "")
		st.UserCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.users.CountByRole(gctx, model.RoleAdmin)
		st.AdminCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.contacts.CountContacts(gctx)
		st.ContactCount = n
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, apperror.Classify("stats", err)
	}
	return &st, nil
}
