package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run applies the ticket registry schema migrations embedded in this package, in
// file name order. Applied versions are recorded in schema_migrations, so Run is
// safe to call on every start.
func Run(ctx context.Context, db *sql.DB) error {
	_, err := RunWithLogger(ctx, db, nil)
	return err
}

// RunWithLogger is Run with an explicit logger. It returns the versions applied by this call.
func RunWithLogger(ctx context.Context, db *sql.DB, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrations")

	// Ensure schema_migrations table exists (TEXT schema by default).
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	files, err := Files()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, f := range files {
		info := migrationInfo{
			versionStr: strings.TrimSuffix(f, ".sql"),
			file:       f,
		}
		ok, applyErr := applyMigration(ctx, db, logger, info)
		if applyErr != nil {
			return applied, applyErr
		}
		if ok {
			applied = append(applied, info.versionStr)
		}
	}
	return applied, nil
}

// Files lists the embedded migration files in the order Run applies them.
func Files() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
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

// migrationInfo holds information about a migration for processing.
type migrationInfo struct {
	versionStr string
	file       string
}

func migrationExists(ctx context.Context, db *sql.DB, info migrationInfo) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`
	if err := db.QueryRowContext(ctx, query, info.versionStr).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", info.file, err)
	}
	return exists, nil
}

func insertMigration(ctx context.Context, tx *sql.Tx, info migrationInfo) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, info.versionStr); err != nil {
		return fmt.Errorf("record migration %s: %w", info.file, err)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, logger *slog.Logger, info migrationInfo) (bool, error) {
	exists, err := migrationExists(ctx, db, info)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	sqlBytes, err := migrationsFS.ReadFile("migrations/" + info.file)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", info.file, err)
	}

	logger.InfoContext(ctx, "applying migration", "version", info.versionStr)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.ErrorContext(
				ctx,
				"failed to rollback transaction",
				"err",
				rollbackErr,
				"migration_file",
				info.file,
			)
		}
	}()

	if _, execErr := tx.ExecContext(ctx, string(sqlBytes)); execErr != nil {
		return false, fmt.Errorf("exec migration %s: %w", info.file, execErr)
	}
	if insertErr := insertMigration(ctx, tx, info); insertErr != nil {
		return false, insertErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return false, fmt.Errorf("commit migration %s: %w", info.file, commitErr)
	}

	return true, nil
}
