// Package redisstore keeps account sessions in redis. Records expire with
// the session and every account keeps an index of its session ids so all
// of them can be terminated at once.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "accounts"

// Store implements accounts.SessionStore on redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ accounts.SessionStore = (*Store)(nil)

// Option customizes the Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// New returns a Store using rdb.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(id string) string {
	return s.prefix + ":session:" + id
}

func (s *Store) userKey(userID uuid.UUID) string {
	return s.prefix + ":user_sessions:" + userID.String()
}

// Create stores record until its expiry.
func (s *Store) Create(ctx context.Context, record *accounts.Session) error {
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return goerrors.New("session already expired", goerrors.CategoryBadInput).
			WithTextCode("SESSION_EXPIRED")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "encode session")
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(record.ID), data, ttl)
		if record.UserID != nil {
			userKey := s.userKey(*record.UserID)
			pipe.SAdd(ctx, userKey, record.ID)
			// the newest session always outlives the others
			pipe.Expire(ctx, userKey, ttl)
		}
		return nil
	})
	return err
}

// Get returns accounts.ErrSessionNotFound for unknown or expired sessions.
func (s *Store) Get(ctx context.Context, id string) (*accounts.Session, error) {
	if id == "" {
		return nil, accounts.ErrSessionNotFound
	}

	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, accounts.ErrSessionNotFound
		}
		return nil, err
	}

	record := &accounts.Session{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "decode session")
	}

	if record.IsExpired(s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, accounts.ErrSessionNotFound
	}
	return record, nil
}

// Delete removes id and its index entry. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	record := &accounts.Session{}
	if err := json.Unmarshal(data, record); err != nil {
		return s.rdb.Del(ctx, s.key(id)).Err()
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		if record.UserID != nil {
			pipe.SRem(ctx, s.userKey(*record.UserID), id)
		}
		return nil
	})
	return err
}

// DeleteByUser removes every session indexed for userID. Sessions created
// while it runs may survive until they expire.
func (s *Store) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	userKey := s.userKey(userID)

	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}

	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(deleted.Val()), nil
}
