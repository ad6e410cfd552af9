package gate

import (
	"context"
	"net/http"
	"testing"

	auth "github.com/goliatone/go-marketplace-auth"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateFunc func() auth.State

func (f stateFunc) State() auth.State { return f() }

type fakeRouteContext struct {
	url        string
	ctx        context.Context
	locals     map[any]any
	status     int
	body       string
	redirectTo string
	redirectSC []int
	nextCalled bool
}

func newFakeRouteContext(url string) *fakeRouteContext {
	return &fakeRouteContext{url: url, ctx: context.Background(), locals: map[any]any{}}
}

func (f *fakeRouteContext) OriginalURL() string            { return f.url }
func (f *fakeRouteContext) Context() context.Context       { return f.ctx }
func (f *fakeRouteContext) SetContext(ctx context.Context) { f.ctx = ctx }
func (f *fakeRouteContext) SendString(s string) error      { f.body = s; return nil }
func (f *fakeRouteContext) Status(code int) router.Context { f.status = code; return nil }
func (f *fakeRouteContext) Next() error                    { f.nextCalled = true; return nil }

func (f *fakeRouteContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return value[0]
	}
	return f.locals[key]
}

func (f *fakeRouteContext) Redirect(path string, status ...int) error {
	f.redirectTo = path
	f.redirectSC = status
	return nil
}

func newTestMiddleware(state auth.State, role auth.Role) *middleware {
	return &middleware{
		gate:   New(),
		source: stateFunc(func() auth.State { return state }),
		role:   role,
		logger: nopLogger{},
	}
}

func TestMiddleware_PendingAnswersUnavailable(t *testing.T) {
	m := newTestMiddleware(auth.InitialState(), "")
	c := newFakeRouteContext("/dashboard")

	err := m.handle(c, c.Next)

	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, c.status)
	assert.Equal(t, PendingMessage, c.body)
	assert.False(t, c.nextCalled)
}

func TestMiddleware_AnonymousRedirectsToSignIn(t *testing.T) {
	m := newTestMiddleware(auth.State{Phase: auth.PhaseReady, Role: auth.RoleClient}, "")
	c := newFakeRouteContext("/add-listing")

	err := m.handle(c, c.Next)

	require.NoError(t, err)
	assert.Equal(t, "/sign-in?from=%2Fadd-listing", c.redirectTo)
	assert.Equal(t, []int{http.StatusSeeOther}, c.redirectSC)
	assert.False(t, c.nextCalled)
}

func TestMiddleware_RoleMismatchRedirectsToFallback(t *testing.T) {
	state := auth.State{
		Phase:   auth.PhaseReady,
		Role:    auth.RoleClient,
		Session: &auth.Session{IdentityID: "id-1"},
	}
	m := newTestMiddleware(state, auth.RoleProvider)
	c := newFakeRouteContext("/add-listing")

	err := m.handle(c, c.Next)

	require.NoError(t, err)
	assert.Equal(t, "/dashboard", c.redirectTo)
	assert.False(t, c.nextCalled)
}

func TestMiddleware_AllowStoresState(t *testing.T) {
	state := auth.State{
		Phase:   auth.PhaseReady,
		Role:    auth.RoleProvider,
		Session: &auth.Session{IdentityID: "id-1"},
	}
	m := newTestMiddleware(state, auth.RoleProvider)
	c := newFakeRouteContext("/add-listing")

	err := m.handle(c, c.Next)

	require.NoError(t, err)
	assert.True(t, c.nextCalled)

	fromCtx, ok := auth.StateFromContext(c.Context())
	require.True(t, ok)
	assert.Equal(t, "id-1", fromCtx.IdentityID())
	assert.Equal(t, state, c.locals[auth.StateLocalsKey])

	role, ok := auth.RoleFromContext(c.Context())
	assert.True(t, ok)
	assert.Equal(t, auth.RoleProvider, role)
}

type nopLogger struct{}

func (nopLogger) Trace(string, ...any)                      {}
func (nopLogger) Debug(string, ...any)                      {}
func (nopLogger) Info(string, ...any)                       {}
func (nopLogger) Warn(string, ...any)                       {}
func (nopLogger) Error(string, ...any)                      {}
func (nopLogger) Fatal(string, ...any)                      {}
func (n nopLogger) WithContext(context.Context) auth.Logger { return n }
