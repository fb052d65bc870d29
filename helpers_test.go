package accounts_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningKey = "0123456789abcdef0123456789abcdef"
	testPassword   = "correct horse battery"
	testAppURL     = "https://accounts.test"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureNotifier struct {
	mu    sync.Mutex
	links []accounts.CapabilityLink
	err   error
}

func (n *captureNotifier) Send(ctx context.Context, link accounts.CapabilityLink) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, link)
	return n.err
}

func (n *captureNotifier) Links() []accounts.CapabilityLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]accounts.CapabilityLink{}, n.links...)
}

func (n *captureNotifier) Last(t *testing.T) accounts.CapabilityLink {
	t.Helper()
	links := n.Links()
	require.NotEmpty(t, links, "expected a capability link")
	return links[len(links)-1]
}

type captureActivity struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (c *captureActivity) Record(ctx context.Context, event accounts.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureActivity) Types() []accounts.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]accounts.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, accounts.CreateSchema(context.Background(), db))
	return db
}

type fixture struct {
	db       *bun.DB
	repo     accounts.RepositoryManager
	tokens   accounts.TokenService
	sessions *accounts.SessionAuthority
	manager  *accounts.Manager
	notifier *captureNotifier
	activity *captureActivity
	metrics  *accounts.Metrics
	clock    *testClock
}

func newFixture(t *testing.T, opts ...accounts.ManagerOption) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		db:       newTestDB(t),
		notifier: &captureNotifier{},
		activity: &captureActivity{},
		metrics:  accounts.NewMetrics(prometheus.NewRegistry()),
		clock:    newTestClock(),
	}

	f.repo = accounts.NewRepositoryManager(f.db, accounts.WithSessionStore(
		accounts.NewSessionsRepository(f.db, accounts.WithSessionsRepositoryClock(f.clock.Now)),
	))
	require.NoError(t, f.repo.Validate())
	require.NoError(t, f.repo.Roles().EnsureProvisioned(ctx))

	tokens, err := accounts.NewTokenService([]byte(testSigningKey), accounts.WithTokenClock(f.clock.Now))
	require.NoError(t, err)
	f.tokens = tokens

	f.sessions = accounts.NewSessionAuthority(f.repo.Sessions(),
		accounts.WithSessionClock(f.clock.Now),
		accounts.WithSessionActivitySink(f.activity),
		accounts.WithSessionMetrics(f.metrics),
	)

	base := []accounts.ManagerOption{
		accounts.WithConfig(accounts.BaseConfig{
			SigningKey: testSigningKey,
			AppURL:     testAppURL,
		}),
		accounts.WithNotifier(f.notifier),
		accounts.WithActivitySink(f.activity),
		accounts.WithMetrics(f.metrics),
		accounts.WithClock(f.clock.Now),
		accounts.WithBcryptCost(bcrypt.MinCost),
	}
	f.manager = accounts.NewManager(f.repo, f.tokens, f.sessions, append(base, opts...)...)
	return f
}

// seedUser stores an account directly. Active accounts get testPassword.
func (f *fixture) seedUser(t *testing.T, name, email string, role accounts.RoleName, state accounts.AccountState) *accounts.User {
	t.Helper()

	now := f.clock.Now()
	user := &accounts.User{
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if state != accounts.AccountStateInvited {
		hash, err := accounts.HashPasswordWithCost(testPassword, bcrypt.MinCost)
		require.NoError(t, err)
		user.PasswordHash = &hash
	}

	if state == accounts.AccountStateActive {
		verified := now
		user.EmailVerifiedAt = &verified
	}

	var created *accounts.User
	err := f.repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = f.repo.Users().CreateTx(ctx, tx, user)
		return err
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) superAdmin(t *testing.T) *accounts.User {
	t.Helper()
	return f.seedUser(t, "Ada Admin", "ada@example.com", accounts.RoleSuperAdmin, accounts.AccountStateActive)
}

func (f *fixture) member(t *testing.T, name, email string) *accounts.User {
	t.Helper()
	return f.seedUser(t, name, email, accounts.RoleMember, accounts.AccountStateActive)
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *accounts.User {
	t.Helper()
	user, err := f.repo.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

func (f *fixture) anonymousSession(t *testing.T) *accounts.Session {
	t.Helper()
	s, err := f.sessions.Start(context.Background())
	require.NoError(t, err)
	return s
}
