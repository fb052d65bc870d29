package accounts

import (
	"context"
	"database/sql"
	"sort"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type roleStore struct {
	db     *bun.DB
	grants map[RoleName][]Permission
	logger Logger
	now    func() time.Time
}

var _ RoleStore = (*roleStore)(nil)

// RoleStoreOption customizes the bun backed RoleStore.
type RoleStoreOption func(*roleStore)

// WithRoleGrants overrides the permissions provisioned for role.
func WithRoleGrants(role RoleName, perms ...Permission) RoleStoreOption {
	return func(s *roleStore) {
		s.grants[role] = append([]Permission{}, perms...)
	}
}

// WithRoleStoreLogger sets the logger used when lookups fail.
func WithRoleStoreLogger(logger Logger) RoleStoreOption {
	return func(s *roleStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRoleStore returns a RoleStore persisted in the roles and
// role_permissions tables.
func NewRoleStore(db *bun.DB, opts ...RoleStoreOption) RoleStore {
	s := &roleStore{
		db:     db,
		grants: DefaultGrants(),
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *roleStore) EnsureProvisioned(ctx context.Context) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, name := range Roles() {
			role := &Role{
				Name:      name,
				Label:     roleLabels[name],
				CreatedAt: s.now().UTC(),
			}
			if _, err := tx.NewInsert().
				Model(role).
				On("CONFLICT (name) DO NOTHING").
				Exec(ctx); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "provision role "+string(name))
			}
		}

		for _, name := range Roles() {
			for _, perm := range s.grants[name] {
				grant := &RolePermission{Role: name, Permission: perm}
				if _, err := tx.NewInsert().
					Model(grant).
					On("CONFLICT (role, permission) DO NOTHING").
					Exec(ctx); err != nil {
					return goerrors.Wrap(err, goerrors.CategoryInternal, "grant permission to "+string(name))
				}
			}
		}
		return nil
	})
}

func (s *roleStore) PermissionsOf(ctx context.Context, role RoleName) ([]Permission, error) {
	var names []string
	err := s.db.NewSelect().
		Model((*RolePermission)(nil)).
		Column("permission").
		Where("?TableAlias.role = ?", role).
		Scan(ctx, &names)
	if err != nil && err != sql.ErrNoRows {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "list permissions of "+string(role))
	}

	out := make([]Permission, 0, len(names))
	for _, name := range names {
		if p, ok := ParsePermission(name); ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return permissionIndex(out[i]) < permissionIndex(out[j])
	})
	return out, nil
}

func (s *roleStore) HasPermission(ctx context.Context, user *User, p Permission) bool {
	if user == nil || user.Role == "" {
		return false
	}

	if IsSuperAdmin(user) {
		return true
	}

	if !IsValidRole(user.Role) {
		return false
	}

	exists, err := s.db.NewSelect().
		Model((*RolePermission)(nil)).
		Where("?TableAlias.role = ?", user.Role).
		Where("?TableAlias.permission = ?", string(p)).
		Exists(ctx)
	if err != nil {
		s.logger.Error("permission lookup failed", "role", user.Role, "permission", string(p), "error", err)
		return false
	}
	return exists
}
