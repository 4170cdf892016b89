package data

import (
	"context"
	"database/sql"

	"github.com/target/sso-ticket-core/internal/migrate"
)

// RunMigrations creates or upgrades the ticket registry schema by delegating to the migrate package.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}
