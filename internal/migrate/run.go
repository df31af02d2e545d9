// Package migrate applies the embedded SQL schema for the family_tests document store.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// advisoryLockMigrate serializes concurrently starting processes while they migrate.
const advisoryLockMigrate = 1000

// Run applies every embedded migration that is not yet recorded in schema_migrations.
// It is safe to call from several processes at once and safe to call repeatedly.
func Run(ctx context.Context, db *sql.DB) error {
	files, err := Pending(migrationsFS)
	if err != nil {
		return err
	}

	logger := slog.Default().With("component", "migrations")
	for _, f := range files {
		if applyErr := apply(ctx, db, logger, f); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// Pending lists the migration files in fsys in apply order.
func Pending(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func apply(ctx context.Context, db *sql.DB, logger *slog.Logger, file string) error {
	version := strings.TrimSuffix(file, ".sql")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.ErrorContext(ctx, "failed to rollback migration", "err", rollbackErr, "version", version)
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockMigrate); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var applied bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
	).Scan(&applied); err != nil {
		return fmt.Errorf("check migration %s: %w", file, err)
	}
	if applied {
		return nil
	}

	body, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}
	logger.InfoContext(ctx, "applying migration", "version", version)

	if _, err = tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}
