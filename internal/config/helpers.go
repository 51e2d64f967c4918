package config

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sheetpipe-io/sheetpipe/migrations"
)

const (
	occurrenceCount = 2
	startUpTimeOut  = 120 * time.Second

	postgresImage  = "postgres:16-alpine"
	kafkaImage     = "confluentinc/confluent-local:7.5.0"
	kafkaClusterID = "sheetpipe-test-cluster"
)

// TestDatabase encapsulates test database resources for cleanup.
type TestDatabase struct {
	Container  *postgres.PostgresContainer
	Connection *sql.DB
	URL        string
}

// TestKafka encapsulates a single-node Kafka broker for integration tests.
type TestKafka struct {
	Container *tckafka.KafkaContainer
	Brokers   []string
}

// SetupTestDatabase creates a PostgreSQL container and applies the embedded migrations.
//
// Usage:
//
//	func TestMyFeature(t *testing.T) {
//		if testing.Short() {
//			t.Skip("skipping integration test in short mode")
//		}
//		ctx := context.Background()
//		testDB := config.SetupTestDatabase(ctx, t)
//		t.Cleanup(func() {
//			_ = testDB.Connection.Close()
//			_ = testcontainers.TerminateContainer(testDB.Container)
//		})
//	}
//
// Cleanup is the caller's responsibility using t.Cleanup().
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("sheetpipe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(occurrenceCount).
				WithStartupTimeout(startUpTimeOut),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	require.NotNil(t, pgContainer, "postgres container is nil")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	if err := RunTestMigrations(ctx, connStr); err != nil {
		_ = testcontainers.TerminateContainer(pgContainer)

		t.Fatalf("Failed to run migrations: %v", err)
	}

	conn, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "Failed to open database")

	return &TestDatabase{
		Container:  pgContainer,
		Connection: conn,
		URL:        connStr,
	}
}

// RunTestMigrations applies the embedded migrations to databaseURL.
// The runner owns a separate handle so closing it leaves callers' connections intact.
func RunTestMigrations(ctx context.Context, databaseURL string) error {
	runner, err := migrations.NewRunner(ctx, databaseURL, migrations.DefaultMigrationTable, slog.Default())
	if err != nil {
		return err
	}

	defer func() {
		_ = runner.Close()
	}()

	return runner.Up()
}

// SetupTestKafka starts a KRaft-mode Kafka container and returns its broker addresses.
//
// Cleanup is the caller's responsibility:
//
//	t.Cleanup(func() { _ = testcontainers.TerminateContainer(testKafka.Container) })
func SetupTestKafka(ctx context.Context, t *testing.T) *TestKafka {
	t.Helper()

	container, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID(kafkaClusterID))
	require.NoError(t, err, "Failed to start kafka container")
	require.NotNil(t, container, "kafka container is nil")

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "Failed to get kafka brokers")

	return &TestKafka{Container: container, Brokers: brokers}
}
