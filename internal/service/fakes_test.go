package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/auth"
	"github.com/sakif/reviewly/internal/mail"
	"github.com/sakif/reviewly/internal/metrics"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory implementation of all three repositories.
// It mirrors the SQLite semantics that matter here: role updates and deletes
// refuse to remove the last admin, and Bootstrap applies once.
//
// Set one of the *Err fields to simulate a database failure on that call.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[string]*model.Session
	contacts map[string]*model.Contact

	getUserErr        error
	countErr          error
	updateRoleErr     error
	deleteSessionsErr error
	createContactErr  error

	// writes counts successful user mutations (role updates and deletes).
	writes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
		contacts: make(map[string]*model.Contact),
	}
}

// addUser inserts an already-bootstrapped user with the given role.
func (f *fakeStore) addUser(name string, role model.Role) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	u := &model.User{
		ID:           xid.New().String(),
		Name:         name,
		Email:        name + "@example.com",
		Role:         role,
		Bootstrapped: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.users[u.ID] = u
	cp := *u
	return &cp
}

func (f *fakeStore) role(id string) model.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u.Role
	}
	return ""
}

func (f *fakeStore) admins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(model.RoleAdmin)
}

func (f *fakeStore) sessionCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

func (f *fakeStore) countLocked(role model.Role) int {
	n := 0
	for _, u := range f.users {
		if role == "" || u.Role == role {
			n++
		}
	}
	return n
}

// --- UserRepository ---

func (f *fakeStore) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.Conflict("user", user.Email)
		}
	}
	user.ID = xid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeStore) UpdateProfile(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[user.ID]
	if !ok {
		return apperror.NotFound("user", user.ID)
	}
	u.Name, u.Image, u.UpdatedAt = user.Name, user.Image, time.Now()
	return nil
}

func (f *fakeStore) CountByRole(_ context.Context, role model.Role) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.countLocked(role), nil
}

func (f *fakeStore) UpdateRole(_ context.Context, id string, role model.Role) (model.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateRoleErr != nil {
		return "", f.updateRoleErr
	}
	u, ok := f.users[id]
	if !ok {
		return "", apperror.NotFound("user", id)
	}
	prev := u.Role
	if prev == role {
		return prev, nil
	}
	if prev == model.RoleAdmin && f.countLocked(model.RoleAdmin) <= 1 {
		return "", apperror.LastAdmin("cannot demote the last admin")
	}
	u.Role = role
	u.UpdatedAt = time.Now()
	f.writes++
	return prev, nil
}

func (f *fakeStore) Bootstrap(_ context.Context, id string, role model.Role) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return false, apperror.NotFound("user", id)
	}
	if u.Bootstrapped {
		return false, nil
	}
	u.Bootstrapped = true
	u.Role = role
	return true, nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	if u.Role == model.RoleAdmin && f.countLocked(model.RoleAdmin) <= 1 {
		return apperror.LastAdmin("cannot delete the last admin")
	}
	delete(f.users, id)
	f.writes++
	return nil
}

func (f *fakeStore) ListUsers(_ context.Context, opts repository.ListOptions) (*repository.Page[model.User], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.User
	for _, u := range f.users {
		if opts.Search == "" || strings.Contains(strings.ToLower(u.Name+" "+u.Email), strings.ToLower(opts.Search)) {
			all = append(all, *u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return &repository.Page[model.User]{Items: window(all, opts), Total: len(all)}, nil
}

func window[T any](items []T, opts repository.ListOptions) []T {
	if opts.Offset >= len(items) {
		return []T{}
	}
	end := opts.Offset + opts.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[opts.Offset:end]
}

// --- SessionRepository ---

func (f *fakeStore) CreateSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.CreatedAt = time.Now()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperror.NotFound("session", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) UpdateSessionRole(_ context.Context, id string, role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return apperror.NotFound("session", id)
	}
	s.Role = role
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) DeleteSessionsByUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteSessionsErr != nil {
		return 0, f.deleteSessionsErr
	}
	var n int64
	for id, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- ContactRepository ---

func (f *fakeStore) CreateContact(_ context.Context, c *model.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createContactErr != nil {
		return f.createContactErr
	}
	c.ID = xid.New().String()
	c.CreatedAt = time.Now()
	cp := *c
	f.contacts[c.ID] = &cp
	return nil
}

func (f *fakeStore) ListContacts(_ context.Context, opts repository.ListOptions) (*repository.Page[model.Contact], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.Contact
	for _, c := range f.contacts {
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return &repository.Page[model.Contact]{Items: window(all, opts), Total: len(all)}, nil
}

func (f *fakeStore) DeleteContact(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.contacts[id]; !ok {
		return apperror.NotFound("contact", id)
	}
	delete(f.contacts, id)
	return nil
}

func (f *fakeStore) CountContacts(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.contacts), nil
}

// =========================================================================
// FAKE MAIL SENDER
// =========================================================================

type fakeSender struct {
	mu   sync.Mutex
	sent []*mail.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg *mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// =========================================================================
// WIRING HELPERS
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// testEnv is a full service graph over one fakeStore.
type testEnv struct {
	store    *fakeStore
	metrics  *metrics.Metrics
	sessions *SessionService
	admin    *AdminService
	auth     *AuthService
}

func newTestEnv(t *testing.T, adminEmails ...string) *testEnv {
	t.Helper()
	store := newFakeStore()
	m := metrics.New()
	logger := discardLogger()

	sessions := NewSessionService(store, store, newTestTokens(t), adminEmails, time.Hour, m, logger)
	return &testEnv{
		store:    store,
		metrics:  m,
		sessions: sessions,
		admin:    NewAdminService(store, store, sessions, m, logger),
		auth:     NewAuthService(store, sessions, logger),
	}
}

// signIn creates a session for u and returns its token.
func (e *testEnv) signIn(t *testing.T, u *model.User) string {
	t.Helper()
	_, token, err := e.sessions.CreateSession(context.Background(), u)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return token
}
