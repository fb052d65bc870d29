package accounts

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultSessionTTL is the lifetime of a session record.
const DefaultSessionTTL = 2 * time.Hour

const sessionIDLength = 32

const csrfTokenLength = 32

// SessionAuthority owns the session lifecycle. Every identity change
// (login, logout, impersonation) destroys the current record and mints a
// new session id and anti-forgery token.
type SessionAuthority struct {
	store        SessionStore
	ttl          time.Duration
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
	metrics      *Metrics
}

// SessionOption customizes the SessionAuthority.
type SessionOption func(*SessionAuthority)

// WithSessionTTL sets the lifetime of new sessions.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(a *SessionAuthority) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(a *SessionAuthority) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger Logger) SessionOption {
	return func(a *SessionAuthority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithSessionActivitySink publishes session events to sink.
func WithSessionActivitySink(sink ActivitySink) SessionOption {
	return func(a *SessionAuthority) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionMetrics records transitions in m.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(a *SessionAuthority) {
		a.metrics = m
	}
}

// NewSessionAuthority returns a SessionAuthority persisting through store.
func NewSessionAuthority(store SessionStore, opts ...SessionOption) *SessionAuthority {
	a := &SessionAuthority{
		store:        store,
		ttl:          DefaultSessionTTL,
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Start opens a new anonymous session.
func (a *SessionAuthority) Start(ctx context.Context) (*Session, error) {
	return a.mint(ctx, nil, nil)
}

// Resume returns the live session for id, or ErrSessionNotFound.
func (a *SessionAuthority) Resume(ctx context.Context, id string) (*Session, error) {
	return a.store.Get(ctx, id)
}

// ResumeOrStart returns the live session for id, opening an anonymous one
// when it is unknown or expired. The bool reports whether a new session
// was created.
func (a *SessionAuthority) ResumeOrStart(ctx context.Context, id string) (*Session, bool, error) {
	session, err := a.store.Get(ctx, id)
	if err == nil {
		return session, false, nil
	}

	if !errors.Is(err, ErrSessionNotFound) {
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "resume session")
	}

	session, err = a.Start(ctx)
	return session, err == nil, err
}

// Login binds a fresh session to userID, destroying currentID.
func (a *SessionAuthority) Login(ctx context.Context, currentID string, userID uuid.UUID) (*Session, error) {
	if err := a.destroy(ctx, currentID); err != nil {
		return nil, err
	}

	session, err := a.mint(ctx, &userID, nil)
	if err != nil {
		return nil, err
	}

	a.metrics.observeSession("login")
	recordActivity(ctx, a.activitySink, a.logger, a.now, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: userID.String(), Type: ActorTypeUser},
		UserID:    userID.String(),
	})
	return session, nil
}

// Logout destroys currentID and returns a fresh anonymous session.
func (a *SessionAuthority) Logout(ctx context.Context, currentID string) (*Session, error) {
	previous, err := a.store.Get(ctx, currentID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "load session")
	}

	if err := a.destroy(ctx, currentID); err != nil {
		return nil, err
	}

	session, err := a.mint(ctx, nil, nil)
	if err != nil {
		return nil, err
	}

	a.metrics.observeSession("logout")
	if previous.IsAuthenticated() {
		recordActivity(ctx, a.activitySink, a.logger, a.now, ActivityEvent{
			EventType: ActivityEventLogout,
			Actor:     ActorRef{ID: previous.UserID.String(), Type: ActorTypeUser},
			UserID:    previous.UserID.String(),
		})
	}
	return session, nil
}

// StartImpersonation logs out the acting admin and logs in as targetID.
// The admin identity is kept on the new record for auditing only, there is
// no way back other than logging out. Callers must have checked
// adminID != targetID through the Gate.
func (a *SessionAuthority) StartImpersonation(ctx context.Context, currentID string, adminID, targetID uuid.UUID) (*Session, error) {
	if adminID == targetID {
		return nil, ErrForbidden
	}

	if err := a.destroy(ctx, currentID); err != nil {
		return nil, err
	}

	session, err := a.mint(ctx, &targetID, &adminID)
	if err != nil {
		return nil, err
	}

	a.metrics.observeSession("impersonate")
	recordActivity(ctx, a.activitySink, a.logger, a.now, ActivityEvent{
		EventType: ActivityEventImpersonationSuccess,
		Actor:     ActorRef{ID: adminID.String(), Type: ActorTypeUser},
		UserID:    targetID.String(),
		Metadata: map[string]any{
			"impersonator_id": adminID.String(),
		},
	})
	return session, nil
}

// Terminate destroys every session bound to userID.
func (a *SessionAuthority) Terminate(ctx context.Context, userID uuid.UUID) error {
	n, err := a.store.DeleteByUser(ctx, userID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "terminate sessions")
	}

	a.metrics.observeSession("terminate")
	recordActivity(ctx, a.activitySink, a.logger, a.now, ActivityEvent{
		EventType: ActivityEventSessionsTerminated,
		Actor:     ActorRef{Type: ActorTypeSystem},
		UserID:    userID.String(),
		Metadata: map[string]any{
			"sessions": n,
		},
	})
	return nil
}

// CSRFToken returns the anti-forgery token of sessionID.
func (a *SessionAuthority) CSRFToken(ctx context.Context, sessionID string) (string, error) {
	session, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.CSRFToken, nil
}

// VerifyCSRF compares token against the session's anti-forgery token in
// constant time.
func (a *SessionAuthority) VerifyCSRF(ctx context.Context, sessionID, token string) error {
	expected, err := a.CSRFToken(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrCSRFMismatch
		}
		return err
	}

	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}

func (a *SessionAuthority) destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := a.store.Delete(ctx, id); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "destroy session")
	}
	return nil
}

func (a *SessionAuthority) mint(ctx context.Context, userID, impersonatorID *uuid.UUID) (*Session, error) {
	id, err := randomToken(sessionIDLength)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "generate session id")
	}

	csrf, err := randomToken(csrfTokenLength)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "generate csrf token")
	}

	now := a.now().UTC()
	session := &Session{
		ID:             id,
		UserID:         userID,
		ImpersonatorID: impersonatorID,
		CSRFToken:      csrf,
		CreatedAt:      now,
		ExpiresAt:      now.Add(a.ttl),
	}

	if err := a.store.Create(ctx, session); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "create session")
	}
	return session, nil
}

// randomToken returns length random bytes hex encoded.
func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
