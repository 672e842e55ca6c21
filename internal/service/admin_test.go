package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/model"
)

// =========================================================================
// ChangeRole / DeletePrincipal
// =========================================================================

func TestChangeRole_DemoteOtherAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.store.addUser("a", model.RoleAdmin)
	b := env.store.addUser("b", model.RoleAdmin)
	c := env.store.addUser("c", model.RoleUser)
	env.signIn(t, b)

	res, err := env.admin.ChangeRole(ctx, a.ID, b.ID, model.RoleUser)
	require.NoError(t, err)

	assert.Equal(t, model.RoleAdmin, res.PreviousRole)
	assert.Equal(t, model.RoleUser, res.NewRole)
	assert.Equal(t, b.Email, res.Email)
	assert.Equal(t, model.RoleAdmin, env.store.role(a.ID))
	assert.Equal(t, model.RoleUser, env.store.role(b.ID))
	assert.Equal(t, model.RoleUser, env.store.role(c.ID))
	assert.Zero(t, env.store.sessionCount(b.ID), "target's sessions must be gone")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RoleChangesTotal.WithLabelValues("ok")))
}

func TestChangeRole_SelfDemotionForbidden(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	env.store.addUser("c", model.RoleUser)

	_, err := env.admin.ChangeRole(context.Background(), a.ID, a.ID, model.RoleUser)
	require.ErrorIs(t, err, apperror.ErrSelfModification)
	assert.Equal(t, model.RoleAdmin, env.store.role(a.ID))
	assert.Zero(t, env.store.writes)
}

func TestDeletePrincipal_SelfBeatsLastAdmin(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)

	err := env.admin.DeletePrincipal(context.Background(), a.ID, a.ID)
	require.ErrorIs(t, err, apperror.ErrSelfModification)
	assert.Equal(t, 1, env.store.admins())
}

func TestChangeRole_LastAdminProtected(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)

	_, err := env.admin.ChangeRole(context.Background(), u.ID, a.ID, model.RoleUser)
	require.ErrorIs(t, err, apperror.ErrLastAdmin)
	assert.Equal(t, 1, env.store.admins())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RoleChangesTotal.WithLabelValues(apperror.CodeLastAdmin)))
}

func TestChangeRole_InvalidRole(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)

	_, err := env.admin.ChangeRole(context.Background(), a.ID, u.ID, model.Role("superuser"))
	require.ErrorIs(t, err, apperror.ErrInvalidRole)
	assert.Equal(t, model.RoleUser, env.store.role(u.ID))
}

func TestChangeRole_TargetNotFound(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)

	_, err := env.admin.ChangeRole(context.Background(), a.ID, "missing", model.RoleAdmin)
	require.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestChangeRole_SameRoleIsNoop(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)
	env.signIn(t, u)

	res, err := env.admin.ChangeRole(context.Background(), a.ID, u.ID, model.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, res.PreviousRole, res.NewRole)
	assert.Equal(t, 1, env.store.sessionCount(u.ID), "a no-op must not drop sessions")
}

// After a successful change the old session is gone and a fresh
// materialization sees the new role.
func TestChangeRole_SessionFreshness(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)
	token := env.signIn(t, u)

	_, err := env.admin.ChangeRole(ctx, a.ID, u.ID, model.RoleAdmin)
	require.NoError(t, err)

	_, err = env.sessions.Resolve(ctx, token)
	require.ErrorIs(t, err, apperror.ErrUnauthenticated)

	got, err := env.sessions.Materialize(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)
}

func TestChangeRole_InvalidationFailureDoesNotFailChange(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)
	env.store.deleteSessionsErr = errors.New("disk full")

	_, err := env.admin.ChangeRole(context.Background(), a.ID, u.ID, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, env.store.role(u.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.InvalidationDegraded))
}

func TestChangeRole_StoreDown(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)
	env.store.countErr = errors.New("database is locked")

	_, err := env.admin.ChangeRole(context.Background(), a.ID, u.ID, model.RoleAdmin)
	require.ErrorIs(t, err, apperror.ErrStoreUnavailable)
	assert.Equal(t, apperror.CodeStoreUnavailable, apperror.Code(err))
	assert.Equal(t, model.RoleUser, env.store.role(u.ID))
}

// Policy passed but the store refused: the conditional write is the last
// line and its reason comes through unchanged.
func TestChangeRole_StoreGuardReasonPassesThrough(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)
	env.store.updateRoleErr = apperror.LastAdmin("cannot demote the last admin")

	_, err := env.admin.ChangeRole(context.Background(), a.ID, u.ID, model.RoleAdmin)
	require.ErrorIs(t, err, apperror.ErrLastAdmin)
}

func TestDeletePrincipal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)
	env.signIn(t, u)

	require.NoError(t, env.admin.DeletePrincipal(ctx, a.ID, u.ID))

	_, err := env.store.GetUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Zero(t, env.store.sessionCount(u.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PrincipalDeletionsTotal.WithLabelValues("ok")))

	err = env.admin.DeletePrincipal(ctx, a.ID, u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDeletePrincipal_LastAdmin(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)

	err := env.admin.DeletePrincipal(context.Background(), u.ID, a.ID)
	require.ErrorIs(t, err, apperror.ErrLastAdmin)
	assert.Equal(t, 1, env.store.admins())
}

// =========================================================================
// BatchChangeRoles
// =========================================================================

// Each entry sees the admin count left by the entries before it.
func TestBatch_SequentialCounts(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	b := env.store.addUser("b", model.RoleAdmin)
	z := env.store.addUser("z", model.RoleAdmin)

	res, err := env.admin.BatchChangeRoles(context.Background(), z.ID, []RoleChange{
		{UserID: b.ID, Role: model.RoleUser},
		{UserID: a.ID, Role: model.RoleUser},
	})
	require.NoError(t, err)

	assert.True(t, res.OverallSuccess)
	require.Len(t, res.Results, 2)
	assert.Equal(t, b.ID, res.Results[0].UserID)
	assert.Equal(t, a.ID, res.Results[1].UserID)
	assert.Equal(t, model.RoleUser, env.store.role(a.ID))
	assert.Equal(t, model.RoleUser, env.store.role(b.ID))
	assert.Equal(t, model.RoleAdmin, env.store.role(z.ID))
}

func TestBatch_PartialSuccessAtLastAdmin(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	b := env.store.addUser("b", model.RoleAdmin)
	x := env.store.addUser("x", model.RoleUser)

	res, err := env.admin.BatchChangeRoles(context.Background(), x.ID, []RoleChange{
		{UserID: a.ID, Role: model.RoleUser},
		{UserID: b.ID, Role: model.RoleUser},
	})
	require.NoError(t, err)

	assert.False(t, res.OverallSuccess)
	assert.Equal(t, 1, res.Succeeded())
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Results[1].Success)
	assert.Equal(t, apperror.CodeLastAdmin, res.Results[1].Code)
	assert.NotEmpty(t, res.Results[1].Error)
	assert.Equal(t, 1, env.store.admins())
}

func TestBatch_ReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.store.addUser("a", model.RoleAdmin)
	u1 := env.store.addUser("u1", model.RoleUser)
	u2 := env.store.addUser("u2", model.RoleAdmin)

	changes := []RoleChange{
		{UserID: u1.ID, Role: model.RoleAdmin},
		{UserID: u2.ID, Role: model.RoleUser},
	}
	first, err := env.admin.BatchChangeRoles(ctx, a.ID, changes)
	require.NoError(t, err)
	require.True(t, first.OverallSuccess)

	writes := env.store.writes
	replay, err := env.admin.BatchChangeRoles(ctx, a.ID, changes)
	require.NoError(t, err)

	assert.True(t, replay.OverallSuccess)
	for _, o := range replay.Results {
		assert.Equal(t, o.PreviousRole, o.NewRole, "entry %s", o.UserID)
	}
	assert.Equal(t, writes, env.store.writes, "replay must not write")
}

func TestBatch_InvalidRoleRejectsWholeBatch(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)

	_, err := env.admin.BatchChangeRoles(context.Background(), a.ID, []RoleChange{
		{UserID: u.ID, Role: model.RoleAdmin},
		{UserID: u.ID, Role: model.Role("owner")},
	})
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, apperror.CodeInvalidInput, apperror.Code(err))
	assert.Zero(t, env.store.writes)
	assert.Equal(t, model.RoleUser, env.store.role(u.ID))
}

func TestBatch_Validation(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)

	tooMany := make([]RoleChange, MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = RoleChange{UserID: a.ID, Role: model.RoleAdmin}
	}

	tests := []struct {
		name    string
		changes []RoleChange
	}{
		{"empty", nil},
		{"missing user id", []RoleChange{{UserID: " ", Role: model.RoleUser}}},
		{"too many", tooMany},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.admin.BatchChangeRoles(context.Background(), a.ID, tt.changes)
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}
}

func TestBatch_MixedOutcomes(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)

	res, err := env.admin.BatchChangeRoles(context.Background(), a.ID, []RoleChange{
		{UserID: u.ID, Role: model.RoleAdmin},
		{UserID: "ghost", Role: model.RoleAdmin},
		{UserID: a.ID, Role: model.RoleUser},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	assert.True(t, res.Results[0].Success)
	assert.Equal(t, u.Email, res.Results[0].Email)
	assert.Equal(t, apperror.CodeNotFound, res.Results[1].Code)
	assert.Equal(t, apperror.CodeSelfModification, res.Results[2].Code)
	assert.False(t, res.OverallSuccess)
}

// The same user twice: the second entry sees the first entry's result.
func TestBatch_RepeatedTargetSeesEarlierEntry(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)

	res, err := env.admin.BatchChangeRoles(context.Background(), a.ID, []RoleChange{
		{UserID: u.ID, Role: model.RoleAdmin},
		{UserID: u.ID, Role: model.RoleUser},
	})
	require.NoError(t, err)
	require.True(t, res.OverallSuccess)

	assert.Equal(t, model.RoleAdmin, res.Results[1].PreviousRole)
	assert.Equal(t, model.RoleUser, env.store.role(u.ID))
}

func TestBatch_StoreDownDuringReads(t *testing.T) {
	env := newTestEnv(t)
	a := env.store.addUser("a", model.RoleAdmin)
	u := env.store.addUser("u", model.RoleUser)
	env.store.getUserErr = errors.New("database is locked")

	_, err := env.admin.BatchChangeRoles(context.Background(), a.ID, []RoleChange{{UserID: u.ID, Role: model.RoleAdmin}})
	require.ErrorIs(t, err, apperror.ErrStoreUnavailable)
	assert.Zero(t, env.store.writes)
}

// No sequence of allowed operations can reach zero admins.
func TestLastAdminInvariant_RandomWalk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	users := []*model.User{
		env.store.addUser("p0", model.RoleAdmin),
		env.store.addUser("p1", model.RoleAdmin),
		env.store.addUser("p2", model.RoleUser),
		env.store.addUser("p3", model.RoleAdmin),
	}
	actor := env.store.addUser("outsider", model.RoleUser)
	roles := []model.Role{model.RoleUser, model.RoleAdmin}

	for i := 0; i < 200; i++ {
		target := users[(i*7)%len(users)]
		switch i % 5 {
		case 0:
			_ = env.admin.DeletePrincipal(ctx, actor.ID, target.ID)
		default:
			_, _ = env.admin.ChangeRole(ctx, actor.ID, target.ID, roles[(i/3)%2])
		}
		require.GreaterOrEqual(t, env.store.admins(), 1, "step %d", i)
	}
}

// =========================================================================
// READS
// =========================================================================

func TestListUsers_Normalization(t *testing.T) {
	env := newTestEnv(t)
	for _, n := range []string{"a", "b", "c"} {
		env.store.addUser(n, model.RoleUser)
	}

	page, err := env.admin.ListUsers(context.Background(), PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultPageSize, page.PageSize)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.TotalPages)

	page, err = env.admin.ListUsers(context.Background(), PageQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Users, 1)
	assert.Equal(t, 2, page.TotalPages)

	page, err = env.admin.ListUsers(context.Background(), PageQuery{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, page.PageSize)
}

func TestPageQuery_Normalize(t *testing.T) {
	q, opts := PageQuery{Page: -3, PageSize: -1, SortField: "password", SortOrder: "ASC", Search: "  x "}.normalize(userSortFields)

	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 1, q.PageSize)
	assert.Equal(t, "createdAt", opts.SortField)
	assert.Equal(t, "asc", string(opts.SortOrder))
	assert.Equal(t, "x", opts.Search)
	assert.Equal(t, 0, opts.Offset)

	_, opts = PageQuery{SortField: "email", SortOrder: "sideways"}.normalize(userSortFields)
	assert.Equal(t, "email", opts.SortField)
	assert.Equal(t, "desc", string(opts.SortOrder))
}

func TestResolveUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.store.addUser("nora", model.RoleUser)

	byID, err := env.admin.ResolveUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byID.ID)

	byEmail, err := env.admin.ResolveUser(ctx, "  NORA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = env.admin.ResolveUser(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.admin.ResolveUser(ctx, "not-an-id")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.admin.ResolveUser(ctx, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestContactsAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := &model.Contact{Name: "n", Email: "n@example.com", Subject: "s", Message: "m"}
	require.NoError(t, env.store.CreateContact(ctx, c))

	page, err := env.admin.ListContacts(ctx, PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Contacts, 1)

	require.NoError(t, env.admin.DeleteContact(ctx, "admin", c.ID))
	assert.ErrorIs(t, env.admin.DeleteContact(ctx, "admin", c.ID), apperror.ErrNotFound)
	assert.ErrorIs(t, env.admin.DeleteContact(ctx, "admin", ""), apperror.ErrValidation)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.addUser("a", model.RoleAdmin)
	env.store.addUser("b", model.RoleUser)
	env.store.addUser("c", model.RoleUser)
	require.NoError(t, env.store.CreateContact(ctx, &model.Contact{Name: "n"}))

	st, err := env.admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{UserCount: 3, AdminCount: 1, ContactCount: 1}, st)

	env.store.countErr = errors.New("database is locked")
	_, err = env.admin.Stats(ctx)
	assert.ErrorIs(t, err, apperror.ErrStoreUnavailable)
}
