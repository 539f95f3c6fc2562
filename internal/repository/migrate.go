package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/bigkaiyoh/TGF-Scholar/internal/migrations"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// PostgresMigrator runs goose migrations over a pgx pool.
type PostgresMigrator struct {
	pool *pgxpool.Pool
}

var _ Migrator = (*PostgresMigrator)(nil)

func NewPostgresMigrator(pool *pgxpool.Pool) *PostgresMigrator {
	return &PostgresMigrator{pool: pool}
}

func (m *PostgresMigrator) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()
	return RunMigrations(ctx, db)
}
