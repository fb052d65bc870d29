package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionStore persists session records.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// Get returns ErrSessionNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (*Session, error)
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	// DeleteByUser removes every session bound to userID and returns how many.
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

type sessions struct {
	db  bun.IDB
	now func() time.Time
}

var _ SessionStore = (*sessions)(nil)

// SessionsRepositoryOption customizes the bun session store.
type SessionsRepositoryOption func(*sessions)

// WithSessionsRepositoryClock sets the clock used to expire records.
func WithSessionsRepositoryClock(clock func() time.Time) SessionsRepositoryOption {
	return func(s *sessions) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewSessionsRepository returns a SessionStore kept in the sessions table.
func NewSessionsRepository(db bun.IDB, opts ...SessionsRepositoryOption) SessionStore {
	s := &sessions{db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *sessions) Create(ctx context.Context, record *Session) error {
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (s *sessions) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	record := &Session{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if record.IsExpired(s.now()) {
		_ = s.Delete(ctx, id)
		return nil, ErrSessionNotFound
	}
	return record, nil
}

func (s *sessions) Delete(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().
		Model((*Session)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (s *sessions) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	res, err := s.db.NewDelete().
		Model((*Session)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
