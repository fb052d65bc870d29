package accounts

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Models lists every model persisted by the package, in creation order.
func Models() []any {
	return []any{
		(*User)(nil),
		(*Role)(nil),
		(*RolePermission)(nil),
		(*Session)(nil),
	}
}

// CreateSchema creates the tables for Models when they do not exist.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "create schema")
		}
	}

	if _, err := db.NewCreateIndex().
		Model((*Session)(nil)).
		Index("sessions_user_id_idx").
		Column("user_id").
		IfNotExists().
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "create sessions index")
	}
	return nil
}
