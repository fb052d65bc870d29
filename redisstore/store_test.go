package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/redisstore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...redisstore.Option) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisstore.New(rdb, opts...), mr
}

func newSession(id string, userID *uuid.UUID, now time.Time) *accounts.Session {
	return &accounts.Session{
		ID:        id,
		UserID:    userID,
		CSRFToken: "csrf-" + id,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	userID := uuid.New()
	require.NoError(t, store.Create(ctx, newSession("s1", &userID, time.Now())))
	assert.True(t, mr.Exists("accounts:session:s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "csrf-s1", got.CSRFToken)
	assert.True(t, got.BoundTo(userID))

	require.NoError(t, store.Delete(ctx, "s1"))
	require.NoError(t, store.Delete(ctx, "s1"))

	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, accounts.ErrSessionNotFound)
}

func TestStoreRecordExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	require.NoError(t, store.Create(ctx, newSession("anon", nil, time.Now())))
	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, "anon")
	assert.ErrorIs(t, err, accounts.ErrSessionNotFound)
}

func TestStoreGetRejectsExpiredRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := now
	store, mr := newStore(t, redisstore.WithClock(func() time.Time { return clock }))

	require.NoError(t, store.Create(ctx, newSession("s1", nil, now)))

	clock = now.Add(time.Hour)
	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, accounts.ErrSessionNotFound)
	assert.False(t, mr.Exists("accounts:session:s1"))
}

func TestStoreDeleteByUser(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t, redisstore.WithPrefix("app"))

	alice, bob := uuid.New(), uuid.New()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newSession("a1", &alice, now)))
	require.NoError(t, store.Create(ctx, newSession("a2", &alice, now)))
	require.NoError(t, store.Create(ctx, newSession("b1", &bob, now)))

	n, err := store.DeleteByUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("app:user_sessions:"+alice.String()))

	_, err = store.Get(ctx, "a1")
	assert.ErrorIs(t, err, accounts.ErrSessionNotFound)

	_, err = store.Get(ctx, "b1")
	assert.NoError(t, err)

	n, err = store.DeleteByUser(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreWorksWithSessionAuthority(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	authority := accounts.NewSessionAuthority(store)

	anon, err := authority.Start(ctx)
	require.NoError(t, err)

	userID := uuid.New()
	session, err := authority.Login(ctx, anon.ID, userID)
	require.NoError(t, err)
	assert.NotEqual(t, anon.ID, session.ID)

	_, err = authority.Resume(ctx, anon.ID)
	assert.ErrorIs(t, err, accounts.ErrSessionNotFound)

	require.NoError(t, authority.VerifyCSRF(ctx, session.ID, session.CSRFToken))
	require.NoError(t, authority.Terminate(ctx, userID))

	_, err = authority.Resume(ctx, session.ID)
	assert.ErrorIs(t, err, accounts.ErrSessionNotFound)
}
