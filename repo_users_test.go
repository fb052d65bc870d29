package accounts_test

import (
	"context"
	"testing"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestUsersCreateNormalizes(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "Grace", "  Grace@Example.COM ", "", accounts.AccountStateInvited)

	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "grace@example.com", user.Email)
	assert.Equal(t, accounts.DefaultRole, user.Role)
	assert.Equal(t, accounts.AccountStateInvited, user.State())

	found, err := f.repo.Users().GetByEmail(context.Background(), "GRACE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
}

func TestUsersDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.member(t, "Grace", "grace@example.com")

	err := f.repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := f.repo.Users().CreateTx(ctx, tx, &accounts.User{Name: "Other", Email: "GRACE@example.com"})
		return err
	})
	require.ErrorIs(t, err, accounts.ErrDuplicateEmail)
}

func TestUsersListOrdersByName(t *testing.T) {
	f := newFixture(t)
	f.member(t, "Linus", "linus@example.com")
	f.member(t, "Ada", "ada2@example.com")
	f.member(t, "Ada", "ada1@example.com")

	records, total, err := f.repo.Users().List(context.Background(), accounts.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, records, 3)
	assert.Equal(t, "ada1@example.com", records[0].Email)
	assert.Equal(t, "ada2@example.com", records[1].Email)
	assert.Equal(t, "linus@example.com", records[2].Email)

	page, total, err := f.repo.Users().List(context.Background(), accounts.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "ada2@example.com", page[0].Email)
}

func TestUsersAcceptInvitationIsCompareAndSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invited := f.seedUser(t, "Grace", "grace@example.com", accounts.RoleMember, accounts.AccountStateInvited)
	at := f.clock.Now().Add(time.Minute)

	var accepted *accounts.User
	err := f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		accepted, err = f.repo.Users().AcceptInvitationTx(ctx, tx, invited.ID, "hash-1", at)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, accepted.PasswordHash)
	assert.Equal(t, "hash-1", *accepted.PasswordHash)
	assert.Equal(t, accounts.AccountStateActive, accepted.State())

	err = f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := f.repo.Users().AcceptInvitationTx(ctx, tx, invited.ID, "hash-2", at)
		return err
	})
	require.ErrorIs(t, err, accounts.ErrAlreadyAccepted)

	assert.Equal(t, "hash-1", *f.reload(t, invited.ID).PasswordHash)

	err = f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := f.repo.Users().AcceptInvitationTx(ctx, tx, uuid.New(), "hash-3", at)
		return err
	})
	require.ErrorIs(t, err, accounts.ErrUserNotFound)
}

func TestUsersDeleteAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "Grace", "grace@example.com")

	require.NoError(t, f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return f.repo.Users().DeleteTx(ctx, tx, user.ID)
	}))

	_, err := f.repo.Users().GetByID(ctx, user.ID)
	require.ErrorIs(t, err, accounts.ErrUserNotFound)

	err = f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return f.repo.Users().DeleteTx(ctx, tx, user.ID)
	})
	require.ErrorIs(t, err, accounts.ErrUserNotFound)
}

func TestUsersUpdateDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.member(t, "Grace", "grace@example.com")
	linus := f.member(t, "Linus", "linus@example.com")

	linus.Email = "grace@example.com"
	err := f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return f.repo.Users().UpdateTx(ctx, tx, linus, "email")
	})
	require.ErrorIs(t, err, accounts.ErrDuplicateEmail)
}
