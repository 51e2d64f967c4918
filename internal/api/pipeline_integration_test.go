package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
	"github.com/sheetpipe-io/sheetpipe/internal/queue"
	"github.com/sheetpipe-io/sheetpipe/internal/storage"
	"github.com/sheetpipe-io/sheetpipe/internal/target"
)

// TestPipelineIntegration drives an upload through the HTTP API, Kafka and the
// ingestor into Postgres, then polls the progress endpoint.
func TestPipelineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := slog.Default()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	testKafka := config.SetupTestKafka(ctx, t)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(testKafka.Container)
	})

	conn, err := storage.NewConnection(ctx, storage.NewConfig(testDB.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := storage.NewProgressStore(conn, logger)
	require.NoError(t, err)

	writer, err := storage.NewTableWriter(conn, target.DefaultConfig(), logger)
	require.NoError(t, err)

	queueCfg := &queue.Config{
		Brokers:           testKafka.Brokers,
		Topic:             "csv_queue_e2e",
		GroupID:           "sheetpipe-e2e",
		MaxMessageBytes:   16 << 20,
		WriteTimeout:      10 * time.Second,
		MaxWait:           100 * time.Millisecond,
		Partitions:        2,
		ReplicationFactor: 1,
	}
	require.NoError(t, queue.EnsureTopic(ctx, queueCfg, logger))

	publisher, err := queue.NewKafkaPublisher(queueCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = publisher.Close() })

	subscriber, err := queue.NewKafkaSubscriber(queueCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscriber.Close() })

	const batchSize = 1000

	server := NewServer(testConfigWithLimit(8<<20), Dependencies{
		Uploader: ingestion.NewUploader(store, publisher, batchSize, logger, nil),
		States:   store,
	}, logger)

	ingestor := ingestion.NewIngestor(subscriber, store, writer,
		ingestion.IngestorConfig{BatchSize: batchSize, BatchTimeout: 30 * time.Second}, logger, nil)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() { done <- ingestor.Run(runCtx) }()

	t.Cleanup(func() {
		stop()
		<-done
	})

	t.Run("UploadIsIngested", func(t *testing.T) {
		var csv strings.Builder

		csv.WriteString("email,first_name,age,active,balance,signed_up,nickname\n")

		for i := range 2500 {
			fmt.Fprintf(&csv, "user%d@example.com,User%d,%d,true,%d.50,2024-01-%02d,nick%d\n",
				i, i, 20+i%60, i, 1+i%28, i)
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads?name=users.csv", strings.NewReader(csv.String()))
		req.Header.Set("Content-Type", "text/csv")

		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var result ingestion.UploadResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.Equal(t, 3, result.TotalBatches)

		var state FileStateResponse

		require.Eventually(t, func() bool {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+result.FileID, nil))

			if rec.Code != http.StatusOK {
				return false
			}

			state = FileStateResponse{}
			if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
				return false
			}

			return state.Status.IsTerminal()
		}, 90*time.Second, 200*time.Millisecond)

		assert.Equal(t, ingestion.StatusProcessed, state.Status, state.ProgressMessage)
		assert.Equal(t, 2500, state.BatchesProcessed)
		assert.Equal(t, 3, state.BatchCount)
		assert.InDelta(t, 100.0, state.Percentage, 0.001)

		var count int
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT count(*) FROM users").Scan(&count))
		assert.Equal(t, 2500, count)

		var firstName string
		require.NoError(t, conn.QueryRowContext(ctx,
			"SELECT first_name FROM users WHERE email = 'user42@example.com'").Scan(&firstName))
		assert.Equal(t, "User42", firstName)
	})

	t.Run("BadRowFailsFile", func(t *testing.T) {
		body := "email,age\nok@example.com,30\nbad@example.com,not-a-number\n"

		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads?name=bad.csv", strings.NewReader(body))
		req.Header.Set("Content-Type", "text/csv")

		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var result ingestion.UploadResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))

		var state *ingestion.FileState

		require.Eventually(t, func() bool {
			got, getErr := store.Get(ctx, result.FileID)
			if getErr != nil {
				return false
			}

			state = got

			return state.Status.IsTerminal()
		}, 90*time.Second, 200*time.Millisecond)

		assert.Equal(t, ingestion.StatusError, state.Status)
		assert.Zero(t, state.BatchesProcessed)

		var count int
		require.NoError(t, conn.QueryRowContext(ctx,
			"SELECT count(*) FROM users WHERE email = 'ok@example.com'").Scan(&count))
		assert.Zero(t, count, "failed batch must roll back")
	})
}

func testConfigWithLimit(limit int64) *ServerConfig {
	cfg := testConfig()
	cfg.MaxUploadSize = limit

	return cfg
}
