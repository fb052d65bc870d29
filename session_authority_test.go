package accounts_test

import (
	"context"
	"testing"

	accounts "github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStartIsAnonymous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Start(ctx)
	require.NoError(t, err)
	assert.False(t, s.IsAuthenticated())
	assert.Len(t, s.ID, 64)
	assert.Len(t, s.CSRFToken, 64)
	assert.Equal(t, f.clock.Now().Add(accounts.DefaultSessionTTL), s.ExpiresAt)

	resumed, err := f.sessions.Resume(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.CSRFToken, resumed.CSRFToken)
}

func TestSessionLoginRotatesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "Grace", "grace@example.com")

	anon := f.anonymousSession(t)
	s, err := f.sessions.Login(ctx, anon.ID, user.ID)
	require.NoError(t, err)

	assert.NotEqual(t, anon.ID, s.ID)
	assert.NotEqual(t, anon.CSRFToken, s.CSRFToken)
	require.NotNil(t, s.UserID)
	assert.Equal(t, user.ID, *s.UserID)

	_, err = f.sessions.Resume(ctx, anon.ID)
	require.ErrorIs(t, err, accounts.ErrSessionNotFound)

	assert.Contains(t, f.activity.Types(), accounts.ActivityEventLoginSuccess)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionTransitions().WithLabelValues("login")))
}

func TestSessionLogoutReturnsAnonymousSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "Grace", "grace@example.com")

	s, err := f.sessions.Login(ctx, "", user.ID)
	require.NoError(t, err)

	out, err := f.sessions.Logout(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, out.IsAuthenticated())
	assert.NotEqual(t, s.ID, out.ID)

	_, err = f.sessions.Resume(ctx, s.ID)
	require.ErrorIs(t, err, accounts.ErrSessionNotFound)
	assert.Contains(t, f.activity.Types(), accounts.ActivityEventLogout)

	// logging out an unknown session still yields a fresh one
	again, err := f.sessions.Logout(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, again.IsAuthenticated())
}

func TestSessionExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.anonymousSession(t)
	f.clock.Advance(accounts.DefaultSessionTTL)

	_, err := f.sessions.Resume(ctx, s.ID)
	require.ErrorIs(t, err, accounts.ErrSessionNotFound)

	fresh, created, err := f.sessions.ResumeOrStart(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, s.ID, fresh.ID)

	same, created, err := f.sessions.ResumeOrStart(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, fresh.ID, same.ID)
}

func TestSessionCSRF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.anonymousSession(t)

	token, err := f.sessions.CSRFToken(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.CSRFToken, token)

	require.NoError(t, f.sessions.VerifyCSRF(ctx, s.ID, token))
	require.ErrorIs(t, f.sessions.VerifyCSRF(ctx, s.ID, ""), accounts.ErrCSRFMismatch)
	require.ErrorIs(t, f.sessions.VerifyCSRF(ctx, s.ID, token[:len(token)-1]+"x"), accounts.ErrCSRFMismatch)
	require.ErrorIs(t, f.sessions.VerifyCSRF(ctx, "missing", token), accounts.ErrCSRFMismatch)
}

func TestSessionImpersonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.superAdmin(t)
	target := f.member(t, "Grace", "grace@example.com")

	current, err := f.sessions.Login(ctx, "", admin.ID)
	require.NoError(t, err)

	_, err = f.sessions.StartImpersonation(ctx, current.ID, admin.ID, admin.ID)
	require.ErrorIs(t, err, accounts.ErrForbidden)

	s, err := f.sessions.StartImpersonation(ctx, current.ID, admin.ID, target.ID)
	require.NoError(t, err)
	require.NotNil(t, s.UserID)
	assert.Equal(t, target.ID, *s.UserID)
	assert.True(t, s.IsImpersonating())
	assert.Equal(t, admin.ID, *s.ImpersonatorID)

	_, err = f.sessions.Resume(ctx, current.ID)
	require.ErrorIs(t, err, accounts.ErrSessionNotFound)
	assert.Contains(t, f.activity.Types(), accounts.ActivityEventImpersonationSuccess)
}

func TestSessionTerminate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "Grace", "grace@example.com")
	other := f.member(t, "Linus", "linus@example.com")

	a, err := f.sessions.Login(ctx, "", user.ID)
	require.NoError(t, err)
	b, err := f.sessions.Login(ctx, "", user.ID)
	require.NoError(t, err)
	c, err := f.sessions.Login(ctx, "", other.ID)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Terminate(ctx, user.ID))

	for _, id := range []string{a.ID, b.ID} {
		_, err := f.sessions.Resume(ctx, id)
		require.ErrorIs(t, err, accounts.ErrSessionNotFound)
	}

	_, err = f.sessions.Resume(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Terminate(ctx, uuid.New()))
}
