package accounts

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Roles() RoleStore
	Sessions() SessionStore
}

type mngr struct {
	db       *bun.DB
	users    Users
	roles    RoleStore
	sessions SessionStore
}

// ManagerRepositoryOption customizes the RepositoryManager.
type ManagerRepositoryOption func(*mngr)

// WithSessionStore replaces the bun session store (e.g. with redis).
func WithSessionStore(store SessionStore) ManagerRepositoryOption {
	return func(m *mngr) {
		if store != nil {
			m.sessions = store
		}
	}
}

// WithRoleStore replaces the default RoleStore.
func WithRoleStore(store RoleStore) ManagerRepositoryOption {
	return func(m *mngr) {
		if store != nil {
			m.roles = store
		}
	}
}

func NewRepositoryManager(db *bun.DB, opts ...ManagerRepositoryOption) RepositoryManager {
	m := &mngr{
		db:       db,
		users:    NewUsersRepository(db),
		roles:    NewRoleStore(db),
		sessions: NewSessionsRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Roles() RoleStore {
	return m.roles
}

func (m mngr) Sessions() SessionStore {
	return m.sessions
}
