package accounts

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultOperationTimeout bounds every lifecycle operation.
const DefaultOperationTimeout = 10 * time.Second

// Routes are the paths used in redirects and capability links.
type Routes struct {
	Home              string
	Login             string
	Dashboard         string
	Invitations       string
	EmailVerification string
	PasswordReset     string
}

// DefaultRoutes returns the default Routes.
func DefaultRoutes() Routes {
	return Routes{
		Home:              "/",
		Login:             "/login",
		Dashboard:         "/dashboard",
		Invitations:       "/invitations",
		EmailVerification: "/verify-email",
		PasswordReset:     "/reset-password",
	}
}

// AccountView is the public projection of an account.
type AccountView struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Email           string       `json:"email"`
	Role            RoleName     `json:"role"`
	State           AccountState `json:"state"`
	EmailVerifiedAt *time.Time   `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewAccountView projects u.
func NewAccountView(u *User) AccountView {
	if u == nil {
		return AccountView{}
	}
	return AccountView{
		ID:              u.ID.String(),
		Name:            u.Name,
		Email:           u.Email,
		Role:            u.Role,
		State:           u.State(),
		EmailVerifiedAt: u.EmailVerifiedAt,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

// AccountPage is a page of accounts.
type AccountPage struct {
	Items []AccountView `json:"items"`
	Total int           `json:"total"`
}

// InvitationReceipt is returned to the admin that created or re-sent an
// invitation. The token itself only travels through the Notifier.
type InvitationReceipt struct {
	Account   AccountView `json:"account"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// InviteeView is shown on the invitation acceptance page.
type InviteeView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Manager runs the account lifecycle operations. Every operation takes
// the acting account explicitly and returns an Outcome; the error return
// is reserved for unexpected storage failures.
type Manager struct {
	repo              RepositoryManager
	tokens            TokenService
	sessions          *SessionAuthority
	gate              Gate
	states            AccountStateMachine
	notifier          Notifier
	activitySink      ActivitySink
	logger            Logger
	metrics           *Metrics
	routes            Routes
	appURL            string
	invitationTTL     time.Duration
	verificationTTL   time.Duration
	resetTTL          time.Duration
	timeout           time.Duration
	passwords         PasswordPolicy
	bcryptCost        int
	allowRegistration bool
	now               func() time.Time
}

// ManagerOption customizes the Manager.
type ManagerOption func(*Manager)

// WithConfig applies cfg.
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		if cfg == nil {
			return
		}
		m.appURL = cfg.GetAppURL()
		m.invitationTTL = cfg.GetInvitationTTL()
		m.verificationTTL = cfg.GetEmailVerificationTTL()
		m.resetTTL = cfg.GetPasswordResetTTL()
		m.timeout = cfg.GetOperationTimeout()
		m.passwords = PasswordPolicy{MinLength: cfg.GetMinPasswordLength()}
		m.bcryptCost = cfg.GetBcryptCost()
		m.allowRegistration = cfg.GetAllowRegistration()
	}
}

// WithNotifier sets the capability link notifier.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithGate replaces the default Gate.
func WithGate(g Gate) ManagerOption {
	return func(m *Manager) {
		m.gate = g
	}
}

// WithAccountStateMachine replaces the default state machine.
func WithAccountStateMachine(sm AccountStateMachine) ManagerOption {
	return func(m *Manager) {
		m.states = sm
	}
}

// WithActivitySink sets the ActivitySink used to publish lifecycle events.
func WithActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records outcomes and gate decisions in metrics.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithRoutes overrides redirect and link paths.
func WithRoutes(routes Routes) ManagerOption {
	return func(m *Manager) {
		m.routes = routes
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) ManagerOption {
	return func(m *Manager) {
		m.bcryptCost = cost
	}
}

// WithRegistration toggles self registration.
func WithRegistration(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.allowRegistration = enabled
	}
}

// NewManager wires a Manager. The Gate and state machine default to
// implementations backed by repo.
func NewManager(repo RepositoryManager, tokens TokenService, sessions *SessionAuthority, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:            repo,
		tokens:          tokens,
		sessions:        sessions,
		notifier:        noopNotifier{},
		activitySink:    noopActivitySink{},
		logger:          defLogger{},
		routes:          DefaultRoutes(),
		invitationTTL:   DefaultInvitationTTL,
		verificationTTL: DefaultEmailVerificationTTL,
		resetTTL:        DefaultPasswordResetTTL,
		timeout:         DefaultOperationTimeout,
		passwords:       PasswordPolicy{MinLength: DefaultMinPasswordLength},
		now:             time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.gate == nil {
		m.gate = NewGate(repo.Roles(), WithGateLogger(m.logger), WithGateMetrics(m.metrics))
	}

	if m.states == nil {
		m.states = NewAccountStateMachine(repo.Users(),
			WithStateMachineClock(m.now),
			WithStateMachineActivitySink(m.activitySink),
			WithStateMachineLogger(m.logger),
		)
	}

	return m
}

// Gate returns the Gate used by the manager.
func (m *Manager) Gate() Gate {
	return m.gate
}

func (m *Manager) inTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	pending := &pendingActivity{}
	txCtx, cancel := context.WithTimeout(withPendingActivity(ctx, pending), m.timeout)
	defer cancel()

	if err := m.repo.RunInTx(txCtx, nil, fn); err != nil {
		return err
	}

	// activity recorded inside fn is only published once the tx committed
	pending.flush(ctx)
	return nil
}

// finish maps expected failures to outcomes and wraps everything else.
func (m *Manager) finish(op string, out Outcome, err error) (Outcome, error) {
	if err != nil {
		mapped, ok := OutcomeFromError(err)
		if !ok {
			m.logger.Error("operation failed", "operation", op, "error", err)
			m.metrics.observeOutcome(op, "error")
			return Outcome{}, goerrors.Wrap(err, goerrors.CategoryInternal, op+" failed")
		}
		out = mapped
	}

	m.metrics.observeOutcome(op, out.Kind)
	return out, nil
}

// authorize loads the actor and checks action against targetID. It runs
// before the operation's transaction so role lookups never wait on it.
// A missing actor is denied rather than reported as not found.
func (m *Manager) authorize(ctx context.Context, actorID uuid.UUID, action Action, targetID *uuid.UUID) (*User, error) {
	actor, err := m.repo.Users().GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	var target *User
	if targetID != nil {
		target = &User{ID: *targetID}
	}

	if err := m.gate.Authorize(ctx, actor, action, target); err != nil {
		return nil, err
	}
	return actor, nil
}

// login binds a session to userID and then confirms the account still
// exists. A delete that committed in between has its sessions terminated
// again and the login reports ErrUserNotFound.
func (m *Manager) login(ctx context.Context, sessionID string, userID uuid.UUID, start func() (*Session, error)) (*Session, error) {
	session, err := start()
	if err != nil {
		return nil, err
	}

	if _, err := m.repo.Users().GetByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			m.logger.Warn("account deleted during login", "user_id", userID.String(), "session_id", sessionID)
			if terr := m.sessions.Terminate(ctx, userID); terr != nil {
				return nil, terr
			}
		}
		return nil, err
	}
	return session, nil
}

// capabilityBinding is the value a capability token is tied to besides its
// subject. Verification links die when the email changes, reset links when
// the email or the password changes. Invitations are unbound.
func capabilityBinding(intent Intent, user *User) string {
	switch intent {
	case IntentEmailVerification:
		return "email:" + NormalizeEmail(user.Email)
	case IntentPasswordReset:
		hash := ""
		if user.PasswordHash != nil {
			hash = *user.PasswordHash
		}
		return "reset:" + NormalizeEmail(user.Email) + "\x00" + hash
	default:
		return ""
	}
}

// sendCapability issues a token for user and hands the link to the
// notifier. Delivery failures are logged, not returned.
func (m *Manager) sendCapability(ctx context.Context, user *User, intent Intent) (time.Time, error) {
	ttl, path := m.invitationTTL, m.routes.Invitations
	switch intent {
	case IntentEmailVerification:
		ttl, path = m.verificationTTL, m.routes.EmailVerification
	case IntentPasswordReset:
		ttl, path = m.resetTTL, m.routes.PasswordReset
	}

	subject := user.ID.String()
	var (
		token     string
		expiresAt time.Time
		err       error
	)
	if binding := capabilityBinding(intent, user); binding != "" {
		token, expiresAt, err = m.tokens.IssueBound(subject, intent, binding, ttl)
	} else {
		token, expiresAt, err = m.tokens.Issue(subject, intent, ttl)
	}
	if err != nil {
		return time.Time{}, err
	}

	link := CapabilityLink{
		Intent:    intent,
		AccountID: subject,
		Name:      user.Name,
		Email:     user.Email,
		Token:     token,
		URL:       CapabilityURL(m.appURL, path, subject, token),
		ExpiresAt: expiresAt,
	}

	err = m.notifier.Send(ctx, link)
	m.metrics.observeNotification(intent, err)
	if err != nil {
		m.logger.Error("capability link delivery failed", "intent", string(intent), "user_id", subject, "error", err)
	}
	return expiresAt, nil
}

func (m *Manager) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, m.activitySink, m.logger, m.now, event)
}

func parseSubject(subject string) (uuid.UUID, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, ErrUserNotFound
	}
	return id, nil
}
