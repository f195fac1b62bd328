package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// sqlDB opens a database/sql handle over the pgx pool for goose.
func (db *DB) sqlDB() *sql.DB {
	return stdlib.OpenDBFromPool(db.Pool)
}

// Migrate applies embedded goose migrations.
func (db *DB) Migrate(ctx context.Context) error {
	sqlDB := db.sqlDB()
	defer sqlDB.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	db.logger.Info().Msg("migrations applied")
	return nil
}

// Version returns the current goose schema version.
func (db *DB) Version(ctx context.Context) (int, error) {
	sqlDB := db.sqlDB()
	defer sqlDB.Close()

	if err := goose.SetDialect("pgx"); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	v, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v), nil
}
