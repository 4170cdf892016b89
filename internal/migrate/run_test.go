package migrate_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sso-ticket-core/internal/migrate"
	"github.com/target/sso-ticket-core/internal/testutil"
)

func TestFiles(t *testing.T) {
	files, err := migrate.Files()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_create_tickets.sql", files[0])
	assert.IsIncreasing(t, files)
}

func TestRun_Idempotent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()

		// The harness already migrated the schema; a second run applies nothing.
		applied, err := migrate.RunWithLogger(ctx, db, nil)
		require.NoError(t, err)
		assert.Empty(t, applied)

		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&n))
		assert.Zero(t, n)
	})
}
