package migrations

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgresContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	pgContainer, err := postgrescontainer.Run(ctx,
		"postgres:16-alpine",
		postgrescontainer.WithDatabase("testdb"),
		postgrescontainer.WithUsername("testuser"),
		postgrescontainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return connStr
}

func TestRunnerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	url := setupPostgresContainer(ctx, t)

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runner, err := NewRunner(ctx, url, "", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close() })

	latest := NewSource(nil).LatestVersion()

	t.Run("StatusBeforeUp", func(t *testing.T) {
		status, err := runner.Status()
		require.NoError(t, err)
		assert.False(t, status.Applied)
		assert.Equal(t, latest, status.Latest)
	})

	t.Run("UpCreatesTables", func(t *testing.T) {
		require.NoError(t, runner.Up())
		require.NoError(t, runner.Up(), "second up is a no-op")

		status, err := runner.Status()
		require.NoError(t, err)
		assert.True(t, status.Applied)
		assert.False(t, status.Dirty)
		assert.Equal(t, uint(latest), status.Version) //nolint:gosec // small version number

		assert.True(t, tableExists(ctx, t, db, "file_states"))
		assert.True(t, tableExists(ctx, t, db, "users"))
	})

	t.Run("DownRollsBackOneStep", func(t *testing.T) {
		require.NoError(t, runner.Down())

		status, err := runner.Status()
		require.NoError(t, err)
		assert.Equal(t, uint(latest-1), status.Version) //nolint:gosec // small version number

		assert.True(t, tableExists(ctx, t, db, "file_states"))
		assert.False(t, tableExists(ctx, t, db, "users"))
	})

	t.Run("DropRemovesEverything", func(t *testing.T) {
		require.NoError(t, runner.Drop())

		assert.False(t, tableExists(ctx, t, db, "file_states"))
		assert.False(t, tableExists(ctx, t, db, DefaultMigrationTable))
	})
}

func tableExists(ctx context.Context, t *testing.T, db *sql.DB, table string) bool {
	t.Helper()

	var exists bool

	err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
		table).Scan(&exists)
	require.NoError(t, err)

	return exists
}
