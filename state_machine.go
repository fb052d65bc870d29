package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	textCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"
	textCodeHookFailed        = "ACCOUNT_TRANSITION_HOOK_FAILED"
)

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryBadInput).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// Actor types.
const (
	ActorTypeUser    = "user"
	ActorTypeInvitee = "invitee"
	ActorTypeSystem  = "system"
)

// UserActor returns an ActorRef for an account.
func UserActor(u *User) ActorRef {
	if u == nil {
		return ActorRef{Type: ActorTypeSystem}
	}
	return ActorRef{ID: u.ID.String(), Type: ActorTypeUser}
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	User  *User
	From  AccountState
	To    AccountState
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// AccountStateMachine owns the account lifecycle graph:
//
//	invited -> active
//	active -> active_unverified (email changed)
//	active_unverified -> active (email verified)
//
// Transitions persist through Users inside the caller's transaction.
type AccountStateMachine interface {
	Transition(ctx context.Context, tx bun.IDB, actor ActorRef, user *User, target AccountState, opts ...TransitionOption) (*User, error)
	CanTransition(from, to AccountState) bool
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *accountStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithPasswordHash supplies the first password hash, required when
// leaving the invited state.
func WithPasswordHash(hash string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.passwordHash = hash
	}
}

// WithBeforeTransitionHook adds a hook executed before the state update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the state update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewAccountStateMachine returns the default implementation backed by users.
func NewAccountStateMachine(users Users, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		users: users,
		transitions: map[AccountState]map[AccountState]struct{}{
			AccountStateInvited: {
				AccountStateActive: {},
			},
			AccountStateActive: {
				AccountStateActiveUnverified: {},
			},
			AccountStateActiveUnverified: {
				AccountStateActive: {},
			},
		},
		now:              time.Now,
		activitySink:     noopActivitySink{},
		logger:           defLogger{},
		hookErrorHandler: defaultHookErrorHandler,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	users            Users
	transitions      map[AccountState]map[AccountState]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata     TransitionMetadata
	passwordHash string
	beforeHooks  []TransitionHook
	afterHooks   []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *accountStateMachine) Transition(ctx context.Context, tx bun.IDB, actor ActorRef, user *User, target AccountState, opts ...TransitionOption) (*User, error) {
	if user == nil || target == "" {
		return nil, ErrInvalidTransition
	}

	from := user.State()
	if from == target {
		return user, nil
	}

	if !sm.CanTransition(from, target) {
		sm.logger.Debug("rejected account transition", "user_id", user.ID.String(), "from", string(from), "to", string(target))
		return nil, ErrInvalidTransition
	}

	options := sm.buildTransitionOptions(opts...)
	if from == AccountStateInvited && options.passwordHash == "" {
		return nil, ErrInvalidTransition
	}

	tc := TransitionContext{
		Actor: actor,
		User:  user,
		From:  from,
		To:    target,
		Meta:  options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	if err := sm.persist(ctx, tx, user, from, target, options); err != nil {
		return nil, err
	}

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType: ActivityEventAccountStateChanged,
		Actor:     actor,
		UserID:    user.ID.String(),
		FromState: from,
		ToState:   target,
		Metadata:  sm.transitionMetadata(tc.Meta),
	})

	return user, nil
}

func (sm *accountStateMachine) CanTransition(from, to AccountState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accountStateMachine) persist(ctx context.Context, tx bun.IDB, user *User, from, to AccountState, opts *transitionOptions) error {
	now := sm.now().UTC()
	at := now
	if user.UpdatedAt.After(at) {
		at = user.UpdatedAt
	}

	switch {
	case from == AccountStateInvited && to == AccountStateActive:
		updated, err := sm.users.AcceptInvitationTx(ctx, tx, user.ID, opts.passwordHash, at)
		if err != nil {
			return err
		}
		*user = *updated
		return nil
	case to == AccountStateActiveUnverified:
		return sm.users.SetEmailVerifiedTx(ctx, tx, user, nil, at)
	case to == AccountStateActive:
		return sm.users.SetEmailVerifiedTx(ctx, tx, user, &now, at)
	default:
		return ErrInvalidTransition
	}
}

func (sm *accountStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *accountStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *accountStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	out := map[string]any{}
	for k, v := range meta.Metadata {
		out[k] = v
	}
	if meta.Reason != "" {
		out["reason"] = meta.Reason
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, string(phase)+" hook failed").
		WithTextCode(textCodeHookFailed).
		WithMetadata(map[string]any{
			"user_id": tc.User.ID.String(),
			"from":    string(tc.From),
			"to":      string(tc.To),
			"reason":  tc.Meta.Reason,
		})
}
