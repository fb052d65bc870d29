package accounts_test

import (
	"context"
	"testing"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func runSessionMiddleware(t *testing.T, f *fixture, cookieValue string) (*router.MockContext, []*router.Cookie) {
	t.Helper()

	ctx := newRouterContext(nil)
	ctx.CookiesM["accounts_session"] = cookieValue
	ctx.On("Cookies", "accounts_session").Return(cookieValue).Maybe()
	cookies := expectSessionRotation(ctx)

	mw := accounts.SessionMiddleware(f.sessions, accounts.SessionCookie{}, nil)
	handler := mw(func(ctx router.Context) error { return nil })
	require.NoError(t, handler(ctx))
	require.True(t, ctx.NextCalled)
	return ctx, *cookies
}

func TestSessionMiddlewareStartsAnonymousSession(t *testing.T) {
	f := newFixture(t)

	ctx, cookies := runSessionMiddleware(t, f, "")

	require.Len(t, cookies, 1)
	assert.Equal(t, "accounts_session", cookies[0].Name)
	assert.Equal(t, "Lax", cookies[0].SameSite)

	session, ok := accounts.SessionFromRouter(ctx)
	require.True(t, ok)
	assert.False(t, session.IsAuthenticated())
	assert.Equal(t, cookies[0].Value, session.ID)
	assert.Equal(t, "", ctx.LocalsMock[accounts.UserIDKey])
}

func TestSessionMiddlewareResumesSession(t *testing.T) {
	f := newFixture(t)
	grace := f.member(t, "Grace", "grace@example.com")
	existing, err := f.sessions.Login(context.Background(), "", grace.ID)
	require.NoError(t, err)

	ctx, cookies := runSessionMiddleware(t, f, existing.ID)

	assert.Empty(t, cookies)
	assert.Equal(t, existing.ID, ctx.LocalsMock[accounts.SessionIDKey])
	assert.Equal(t, grace.ID.String(), ctx.LocalsMock[accounts.UserIDKey])
}

func TestSessionContextHelpers(t *testing.T) {
	_, ok := accounts.SessionFromContext(context.Background())
	assert.False(t, ok)

	s := &accounts.Session{ID: "abc"}
	got, ok := accounts.SessionFromContext(accounts.WithSessionContext(context.Background(), s))
	require.True(t, ok)
	assert.Equal(t, "abc", got.ID)
}

func TestSessionCookieClear(t *testing.T) {
	ctx := router.NewMockContext()
	var cookie *router.Cookie
	ctx.On("Cookie", mock.Anything).Run(func(args mock.Arguments) {
		cookie = args.Get(0).(*router.Cookie)
	}).Return()

	accounts.SessionCookie{Name: "sid"}.Clear(ctx)
	require.NotNil(t, cookie)
	assert.Equal(t, "sid", cookie.Name)
	assert.Empty(t, cookie.Value)
}
