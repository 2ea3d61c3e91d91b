package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/migrate"
)

// Migrate applies the embedded migrations for the dialect of db
func Migrate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	dir := "sqlite"
	switch db.Dialect().Name() {
	case dialect.SQLite:
	case dialect.PG:
		dir = "postgres"
	default:
		return nil, goerrors.New("unsupported database dialect", goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal).
			WithTextCode(TextCodeConfiguration).
			WithMetadata(map[string]any{"dialect": db.Dialect().Name().String()})
	}

	fsys, err := DialectMigrationsFS(dir)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open migrations")
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(fsys); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to discover migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to init migrations")
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run migrations")
	}

	return group, nil
}
