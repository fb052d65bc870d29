package accounts_test

import (
	"context"
	"errors"
	"testing"

	accounts "github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestStateMachineGraph(t *testing.T) {
	sm := accounts.NewAccountStateMachine(nil)

	assert.True(t, sm.CanTransition(accounts.AccountStateInvited, accounts.AccountStateActive))
	assert.True(t, sm.CanTransition(accounts.AccountStateActive, accounts.AccountStateActiveUnverified))
	assert.True(t, sm.CanTransition(accounts.AccountStateActiveUnverified, accounts.AccountStateActive))

	assert.False(t, sm.CanTransition(accounts.AccountStateActive, accounts.AccountStateInvited))
	assert.False(t, sm.CanTransition(accounts.AccountStateActiveUnverified, accounts.AccountStateInvited))
	assert.False(t, sm.CanTransition(accounts.AccountStateInvited, accounts.AccountStateActiveUnverified))
}

func TestStateMachineAcceptInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sink := &captureActivity{}
	sm := accounts.NewAccountStateMachine(f.repo.Users(),
		accounts.WithStateMachineClock(f.clock.Now),
		accounts.WithStateMachineActivitySink(sink),
	)
	invited := f.seedUser(t, "Grace", "grace@example.com", accounts.RoleMember, accounts.AccountStateInvited)

	err := f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := sm.Transition(ctx, tx, accounts.ActorRef{Type: accounts.ActorTypeInvitee}, invited, accounts.AccountStateActive)
		return err
	})
	require.ErrorIs(t, err, accounts.ErrInvalidTransition, "accepting needs a password hash")

	err = f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := sm.Transition(ctx, tx, accounts.ActorRef{Type: accounts.ActorTypeInvitee}, invited, accounts.AccountStateActive,
			accounts.WithPasswordHash("hash"),
			accounts.WithTransitionReason("invitation accepted"),
		)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, accounts.AccountStateActive, invited.State())
	assert.Equal(t, accounts.AccountStateActive, f.reload(t, invited.ID).State())
	assert.Equal(t, []accounts.ActivityEventType{accounts.ActivityEventAccountStateChanged}, sink.Types())
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	sm := accounts.NewAccountStateMachine(f.repo.Users())
	user := f.member(t, "Grace", "grace@example.com")

	err := f.repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := sm.Transition(ctx, tx, accounts.UserActor(user), user, accounts.AccountStateInvited)
		return err
	})
	require.ErrorIs(t, err, accounts.ErrInvalidTransition)
}

func TestStateMachineSameStateIsNoop(t *testing.T) {
	f := newFixture(t)
	sink := &captureActivity{}
	sm := accounts.NewAccountStateMachine(f.repo.Users(), accounts.WithStateMachineActivitySink(sink))
	user := f.member(t, "Grace", "grace@example.com")

	err := f.repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := sm.Transition(ctx, tx, accounts.UserActor(user), user, accounts.AccountStateActive)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, sink.Types())
}

func TestStateMachineVerificationRoundTrip(t *testing.T) {
	f := newFixture(t)
	sm := accounts.NewAccountStateMachine(f.repo.Users(), accounts.WithStateMachineClock(f.clock.Now))
	user := f.member(t, "Grace", "grace@example.com")

	err := f.repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := sm.Transition(ctx, tx, accounts.UserActor(user), user, accounts.AccountStateActiveUnverified)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, accounts.AccountStateActiveUnverified, f.reload(t, user.ID).State())

	err = f.repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := sm.Transition(ctx, tx, accounts.UserActor(user), user, accounts.AccountStateActive)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, accounts.AccountStateActive, f.reload(t, user.ID).State())
}

func TestStateMachineHooks(t *testing.T) {
	f := newFixture(t)
	sm := accounts.NewAccountStateMachine(f.repo.Users())
	user := f.member(t, "Grace", "grace@example.com")

	var seen []accounts.TransitionContext
	err := f.repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := sm.Transition(ctx, tx, accounts.UserActor(user), user, accounts.AccountStateActiveUnverified,
			accounts.WithBeforeTransitionHook(func(_ context.Context, tc accounts.TransitionContext) error {
				seen = append(seen, tc)
				return nil
			}),
		)
		return err
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, accounts.AccountStateActive, seen[0].From)
	assert.Equal(t, accounts.AccountStateActiveUnverified, seen[0].To)

	hookErr := errors.New("boom")
	err = f.repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := sm.Transition(ctx, tx, accounts.UserActor(user), user, accounts.AccountStateActive,
			accounts.WithBeforeTransitionHook(func(context.Context, accounts.TransitionContext) error {
				return hookErr
			}),
		)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, accounts.AccountStateActiveUnverified, f.reload(t, user.ID).State())
}
