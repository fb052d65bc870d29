package accounts_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRouterContext(session *accounts.Session) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("SetContext", mock.Anything).Return().Maybe()
	if session != nil {
		ctx.LocalsMock[accounts.SessionKey] = session
		ctx.LocalsMock[accounts.SessionIDKey] = session.ID
	}
	return ctx
}

func expectJSON(ctx *router.MockContext, status int) *any {
	var captured any
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1)
	}).Return(nil)
	return &captured
}

func expectSessionRotation(ctx *router.MockContext) *[]*router.Cookie {
	var cookies []*router.Cookie
	ctx.On("Cookie", mock.Anything).Run(func(args mock.Arguments) {
		cookies = append(cookies, args.Get(0).(*router.Cookie))
	}).Return()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil)
	return &cookies
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		out    accounts.Outcome
		status int
	}{
		{accounts.Success(nil), router.StatusOK},
		{accounts.Redirected("/dashboard", ""), router.StatusSeeOther},
		{accounts.Outcome{Kind: accounts.OutcomeValidationFailed}, http.StatusUnprocessableEntity},
		{accounts.Outcome{Kind: accounts.OutcomeForbidden}, router.StatusForbidden},
		{accounts.Outcome{Kind: accounts.OutcomeTokenInvalidOrExpired}, router.StatusForbidden},
		{accounts.Outcome{Kind: accounts.OutcomeNotFound}, http.StatusNotFound},
		{accounts.Outcome{Kind: accounts.OutcomeConflict}, http.StatusConflict},
		{accounts.Outcome{}, router.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, accounts.StatusFor(tt.out), tt.out.Kind)
	}
}

func TestHTTPListUsers(t *testing.T) {
	f := newFixture(t)
	admin := f.superAdmin(t)
	f.member(t, "Grace", "grace@example.com")
	session, err := f.sessions.Login(context.Background(), "", admin.ID)
	require.NoError(t, err)

	c := accounts.NewHTTPController(f.manager)
	ctx := newRouterContext(session)
	ctx.QueriesM["limit"] = "1"
	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, c.ListUsers(ctx))

	out, ok := (*body).(accounts.Outcome)
	require.True(t, ok)
	page := out.Payload.(accounts.AccountPage)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)
}

func TestHTTPAnonymousIsForbidden(t *testing.T) {
	f := newFixture(t)
	grace := f.member(t, "Grace", "grace@example.com")

	c := accounts.NewHTTPController(f.manager)
	ctx := newRouterContext(f.anonymousSession(t))
	ctx.ParamsM["id"] = grace.ID.String()
	body := expectJSON(ctx, router.StatusForbidden)

	require.NoError(t, c.GetUser(ctx))
	assert.Equal(t, accounts.OutcomeForbidden, (*body).(accounts.Outcome).Kind)

	ctx = newRouterContext(nil)
	expectJSON(ctx, router.StatusForbidden)
	require.NoError(t, c.SendEmailVerification(ctx))
}

func TestHTTPDeleteSelfIsForbidden(t *testing.T) {
	f := newFixture(t)
	admin := f.superAdmin(t)
	session, err := f.sessions.Login(context.Background(), "", admin.ID)
	require.NoError(t, err)

	c := accounts.NewHTTPController(f.manager)
	ctx := newRouterContext(session)
	ctx.ParamsM["id"] = admin.ID.String()
	expectJSON(ctx, router.StatusForbidden)

	require.NoError(t, c.DeleteUser(ctx))
	assert.Equal(t, admin.ID, f.reload(t, admin.ID).ID)
}

func TestHTTPGetUnknownUser(t *testing.T) {
	f := newFixture(t)
	admin := f.superAdmin(t)
	session, err := f.sessions.Login(context.Background(), "", admin.ID)
	require.NoError(t, err)

	c := accounts.NewHTTPController(f.manager)
	ctx := newRouterContext(session)
	ctx.ParamsM["id"] = "not-a-uuid"
	expectJSON(ctx, http.StatusNotFound)

	require.NoError(t, c.GetUser(ctx))
}

func TestHTTPResendAcceptedInvitationWarns(t *testing.T) {
	f := newFixture(t)
	admin := f.superAdmin(t)
	grace := f.member(t, "Grace", "grace@example.com")
	session, err := f.sessions.Login(context.Background(), "", admin.ID)
	require.NoError(t, err)

	c := accounts.NewHTTPController(f.manager)
	ctx := newRouterContext(session)
	ctx.ParamsM["id"] = grace.ID.String()
	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, c.ResendInvitation(ctx))

	payload, ok := (*body).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, accounts.ConflictAlreadyAccepted, payload["reason"])
	assert.Equal(t, "Invitation already accepted", payload["warning"])
}

func TestHTTPShowInvitation(t *testing.T) {
	f := newFixture(t)
	admin := f.superAdmin(t)
	bob := inviteBob(t, f, admin)
	link := f.notifier.Last(t)

	c := accounts.NewHTTPController(f.manager)
	ctx := newRouterContext(f.anonymousSession(t))
	ctx.ParamsM["id"] = bob.ID
	ctx.QueriesM["token"] = link.Token
	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, c.ShowInvitation(ctx))
	out := (*body).(accounts.Outcome)
	assert.Equal(t, "bob@example.com", out.Payload.(accounts.InviteeView).Email)

	f.clock.Advance(accounts.DefaultInvitationTTL + time.Minute)
	ctx = newRouterContext(f.anonymousSession(t))
	ctx.ParamsM["id"] = bob.ID
	ctx.QueriesM["token"] = link.Token
	body = expectJSON(ctx, router.StatusForbidden)

	require.NoError(t, c.ShowInvitation(ctx))
	assert.Equal(t, accounts.TokenFailureExpired, (*body).(accounts.Outcome).TokenFailure)
}

func TestHTTPImpersonateRotatesSession(t *testing.T) {
	f := newFixture(t)
	admin := f.superAdmin(t)
	grace := f.member(t, "Grace", "grace@example.com")
	session, err := f.sessions.Login(context.Background(), "", admin.ID)
	require.NoError(t, err)

	c := accounts.NewHTTPController(f.manager, accounts.WithHTTPCookie(accounts.SessionCookie{Name: "sid", Secure: true}))
	ctx := newRouterContext(session)
	ctx.ParamsM["id"] = grace.ID.String()
	cookies := expectSessionRotation(ctx)
	ctx.On("Redirect", "/dashboard", []int{router.StatusSeeOther}).Return(nil)

	require.NoError(t, c.Impersonate(ctx))

	require.Len(t, *cookies, 1)
	cookie := (*cookies)[0]
	assert.Equal(t, "sid", cookie.Name)
	assert.True(t, cookie.Secure)
	assert.True(t, cookie.HTTPOnly)
	assert.NotEqual(t, session.ID, cookie.Value)

	assert.Equal(t, cookie.Value, ctx.LocalsMock[accounts.SessionIDKey])
	assert.Equal(t, grace.ID.String(), ctx.LocalsMock[accounts.UserIDKey])

	_, err = f.sessions.Resume(context.Background(), session.ID)
	require.ErrorIs(t, err, accounts.ErrSessionNotFound)
}

func TestHTTPLogout(t *testing.T) {
	f := newFixture(t)
	grace := f.member(t, "Grace", "grace@example.com")
	session, err := f.sessions.Login(context.Background(), "", grace.ID)
	require.NoError(t, err)

	c := accounts.NewHTTPController(f.manager)
	ctx := newRouterContext(session)
	expectSessionRotation(ctx)
	ctx.On("Redirect", "/", []int{router.StatusSeeOther}).Return(nil)

	require.NoError(t, c.Logout(ctx))
	assert.Equal(t, "", ctx.LocalsMock[accounts.UserIDKey])
	assert.NotEqual(t, session.ID, ctx.LocalsMock[accounts.SessionIDKey])
}

func TestHTTPVerifyEmail(t *testing.T) {
	f := newFixture(t, accounts.WithRegistration(true))
	out, err := f.manager.Register(context.Background(), accounts.RegisterInput{
		Name:                 "Grace",
		Email:                "grace@example.com",
		Password:             testPassword,
		PasswordConfirmation: testPassword,
	}, "")
	require.NoError(t, err)
	view := out.Payload.(accounts.AccountView)
	link := f.notifier.Last(t)

	c := accounts.NewHTTPController(f.manager)
	ctx := newRouterContext(out.Session)
	ctx.ParamsM["id"] = view.ID
	ctx.QueriesM["token"] = link.Token
	ctx.On("Redirect", "/dashboard", []int{router.StatusSeeOther}).Return(nil)

	require.NoError(t, c.VerifyEmail(ctx))
	assert.Equal(t, accounts.AccountStateActive, f.reload(t, *out.Session.UserID).State())
}
