package accounts

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// AcceptInvitationSQL sets the first password of an invited account. The
// password_hash IS NULL guard makes acceptance a compare-and-set: a second
// acceptance updates no rows.
var AcceptInvitationSQL = `UPDATE "users"
SET
	"password_hash" = ?,
	"email_verified_at" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
AND
	"password_hash" IS NULL
RETURNING *;`

// ListOptions controls paging for Users.List.
type ListOptions struct {
	Limit  int
	Offset int
}

// Users is the account repository.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	// GetForUpdateTx reads the account and locks its row until tx ends
	// on dialects that support row locks.
	GetForUpdateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	List(ctx context.Context, opts ListOptions) ([]*User, int, error)

	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	UpdateTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) error
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	AcceptInvitationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) (*User, error)
	SetEmailVerifiedTx(ctx context.Context, tx bun.IDB, user *User, verifiedAt *time.Time, at time.Time) error
}

type users struct {
	repo repository.Repository[*User]
	db   *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns the bun backed Users repository.
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		repo: repo,
		db:   db,
	}
}

func (u *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	record, err := u.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, mapUserErr(err)
	}
	return record, nil
}

func (u *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	return u.selectOne(ctx, tx, id, false)
}

func (u *users) GetForUpdateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	return u.selectOne(ctx, tx, id, true)
}

func (u *users) selectOne(ctx context.Context, tx bun.IDB, id uuid.UUID, lock bool) (*User, error) {
	record := &User{}
	q := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1)

	// sqlite serializes writers on its own
	if lock && tx.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}

	if err := q.Scan(ctx); err != nil {
		return nil, mapUserErr(err)
	}
	return record, nil
}

func (u *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return u.GetByEmailTx(ctx, u.db, email)
}

func (u *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return record, nil
}

func (u *users) List(ctx context.Context, opts ListOptions) ([]*User, int, error) {
	records := []*User{}
	q := u.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.name ASC").
		OrderExpr("?TableAlias.email ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	count, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return records, count, nil
}

func (u *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)

	if existing, err := u.GetByEmailTx(ctx, tx, user.Email); err == nil && existing != nil {
		return nil, ErrDuplicateEmail
	} else if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	record, err := u.repo.CreateTx(ctx, tx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return record, nil
}

func (u *users) UpdateTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) error {
	if user == nil || user.ID == uuid.Nil {
		return ErrUserNotFound
	}

	if len(columns) == 0 {
		columns = []string{"name", "email", "role", "updated_at"}
	}

	res, err := tx.NewUpdate().
		Model(user).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (u *users) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewDelete().
		Model((*User)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (u *users) AcceptInvitationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) (*User, error) {
	res, err := u.repo.RawTx(ctx, tx, AcceptInvitationSQL, passwordHash, at, at, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) > 0 {
		return res[0], nil
	}

	// no row changed: either the account is gone or it already has a password
	current, err := u.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if !current.IsInvited() {
		return nil, ErrAlreadyAccepted
	}
	return nil, ErrUserNotFound
}

func (u *users) SetEmailVerifiedTx(ctx context.Context, tx bun.IDB, user *User, verifiedAt *time.Time, at time.Time) error {
	user.EmailVerifiedAt = verifiedAt
	user.Touch(at)
	return u.UpdateTx(ctx, tx, user, "email_verified_at", "updated_at")
}

func prepareUserDefaults(user *User) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	user.Email = NormalizeEmail(user.Email)
	user.Role = NormalizeRole(user.Role)
	if user.Role == "" {
		user.Role = DefaultRole
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
}

func mapUserErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return ErrUserNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
