package accounts

import (
	"context"
	"sync"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountInvited       ActivityEventType = "account.invited"
	ActivityEventInvitationResent     ActivityEventType = "account.invitation.resent"
	ActivityEventInvitationAccepted   ActivityEventType = "account.invitation.accepted"
	ActivityEventAccountRegistered    ActivityEventType = "account.registered"
	ActivityEventAccountStateChanged  ActivityEventType = "account.state.changed"
	ActivityEventAccountUpdated       ActivityEventType = "account.updated"
	ActivityEventRoleChanged          ActivityEventType = "account.role.changed"
	ActivityEventPasswordChanged      ActivityEventType = "account.password.changed"
	ActivityEventPasswordResetRequest ActivityEventType = "account.password.reset_requested"
	ActivityEventPasswordReset        ActivityEventType = "account.password.reset"
	ActivityEventAccountDeleted       ActivityEventType = "account.deleted"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventLogout               ActivityEventType = "auth.logout"
	ActivityEventImpersonationSuccess ActivityEventType = "auth.impersonation.success"
	ActivityEventImpersonationFailure ActivityEventType = "auth.impersonation.failure"
	ActivityEventSessionsTerminated   ActivityEventType = "auth.sessions.terminated"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	FromState  AccountState
	ToState    AccountState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity publishes best effort: sink failures are logged only.
// Inside a transaction started by the Manager the event is held until the
// transaction commits and dropped when it rolls back.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now().UTC()
	}

	if pending, ok := ctx.Value(pendingActivityKey{}).(*pendingActivity); ok && pending != nil {
		pending.add(sink, logger, event)
		return
	}
	publishActivity(ctx, sink, logger, event)
}

func publishActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if err := sink.Record(ctx, event); err != nil {
		logger.Error("activity sink failed", "event", string(event.EventType), "user_id", event.UserID, "error", err)
	}
}

type pendingActivityKey struct{}

type pendingEntry struct {
	sink   ActivitySink
	logger Logger
	event  ActivityEvent
}

// pendingActivity buffers events recorded inside a transaction.
type pendingActivity struct {
	mu      sync.Mutex
	entries []pendingEntry
}

func withPendingActivity(ctx context.Context, pending *pendingActivity) context.Context {
	return context.WithValue(ctx, pendingActivityKey{}, pending)
}

func (p *pendingActivity) add(sink ActivitySink, logger Logger, event ActivityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, pendingEntry{sink: sink, logger: logger, event: event})
}

func (p *pendingActivity) flush(ctx context.Context) {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	for _, e := range entries {
		publishActivity(ctx, e.sink, e.logger, e.event)
	}
}
