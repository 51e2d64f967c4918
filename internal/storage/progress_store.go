package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

var (
	// ErrStoreUnavailable is returned when the database cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	_ ingestion.ProgressStore = (*ProgressStore)(nil)
)

const fileStateColumns = `file_id, file_name, status, is_processed, date_processed, row_count,
	batches_processed, total_batches, batch_count, progress_message, batches`

const insertFileStateSQL = `
	INSERT INTO file_states (
		file_id, file_name, status, is_processed, date_processed, row_count,
		batches_processed, total_batches, batch_count, progress_message, batches
	) VALUES ($1, $2, $3, $4, NOW(), $5, $6, $7, $8, $9, $10::jsonb)`

// upsertStatusSQL creates the record when absent and otherwise applies the update
// only if the current status may transition to the new one ($9). Row count and
// total batches ($3, $10) only fill in a record that has no row count yet. The batch record
// ($8) is appended in the same statement so progress and audit trail never diverge.
const upsertStatusSQL = `
	INSERT INTO file_states AS fs (
		file_id, file_name, row_count, total_batches, status, is_processed, date_processed,
		batches_processed, progress_message, batches, batch_count
	) VALUES (
		$1, $2, $3, $10, $4, $5, NOW(),
		COALESCE($6::integer, 0),
		$7::text,
		CASE WHEN $8::jsonb IS NULL THEN '[]'::jsonb ELSE jsonb_build_array($8::jsonb) END,
		CASE WHEN $8::jsonb IS NULL THEN 0 ELSE 1 END
	)
	ON CONFLICT (file_id) DO UPDATE SET
		status            = EXCLUDED.status,
		is_processed      = EXCLUDED.is_processed,
		date_processed    = NOW(),
		updated_at        = NOW(),
		row_count         = CASE WHEN fs.row_count = 0 THEN EXCLUDED.row_count ELSE fs.row_count END,
		total_batches     = CASE WHEN fs.row_count = 0 THEN EXCLUDED.total_batches ELSE fs.total_batches END,
		batches_processed = COALESCE($6::integer, fs.batches_processed),
		progress_message  = CASE WHEN $7::text = '' THEN fs.progress_message ELSE $7::text END,
		batches           = CASE WHEN $8::jsonb IS NULL THEN fs.batches
		                         ELSE fs.batches || jsonb_build_array($8::jsonb) END,
		batch_count       = CASE WHEN $8::jsonb IS NULL THEN fs.batch_count ELSE fs.batch_count + 1 END
	WHERE fs.status = ANY($9::text[])
	RETURNING ` + fileStateColumns

// conditionalStatusSQL updates an existing record whose status is exactly $9.
const conditionalStatusSQL = `
	UPDATE file_states AS fs SET
		status            = $2,
		is_processed      = $3,
		date_processed    = NOW(),
		updated_at        = NOW(),
		batches_processed = COALESCE($4::integer, fs.batches_processed),
		progress_message  = CASE WHEN $5::text = '' THEN fs.progress_message ELSE $5::text END,
		batches           = CASE WHEN $6::jsonb IS NULL THEN fs.batches
		                         ELSE fs.batches || jsonb_build_array($6::jsonb) END,
		batch_count       = CASE WHEN $6::jsonb IS NULL THEN fs.batch_count ELSE fs.batch_count + 1 END
	WHERE fs.file_id = $1
	  AND fs.status = $7
	  AND fs.status = ANY($8::text[])
	RETURNING ` + fileStateColumns

const appendBatchSQL = `
	UPDATE file_states SET
		batches        = batches || jsonb_build_array($2::jsonb),
		batch_count    = batch_count + 1,
		date_processed = NOW(),
		updated_at     = NOW()
	WHERE file_id = $1`

// ProgressStore implements ingestion.ProgressStore on the file_states table.
// Each FileState is one row; the batch audit trail is a JSONB array on that row.
type ProgressStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewProgressStore creates a PostgreSQL-backed progress store.
func NewProgressStore(conn *Connection, logger *slog.Logger) (*ProgressStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ProgressStore{conn: conn, logger: logger}, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *ProgressStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Insert writes the initial FileState. A second insert for the same fileId returns
// ingestion.ErrDuplicateFileState.
func (s *ProgressStore) Insert(ctx context.Context, state *ingestion.FileState) error {
	batches, err := marshalBatches(state.Batches)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, insertFileStateSQL,
		state.FileID,
		state.FileName,
		string(state.Status),
		state.Status == ingestion.StatusProcessed,
		state.RowCount,
		state.BatchesProcessed,
		state.TotalBatches,
		len(state.Batches),
		state.ProgressMessage,
		batches,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ingestion.ErrDuplicateFileState, state.FileID)
		}

		return s.wrap("insert file state", state.FileID, err)
	}

	return nil
}

// UpsertStatus applies update as a single statement. See ingestion.ProgressStore.
func (s *ProgressStore) UpsertStatus(
	ctx context.Context,
	fileID string,
	update ingestion.StatusUpdate,
) (*ingestion.FileState, error) {
	if !update.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ingestion.ErrInvalidTransition, update.Status)
	}

	batch, err := marshalBatch(update.Batch)
	if err != nil {
		return nil, err
	}

	processed := sql.NullInt64{}
	if update.BatchesProcessed != nil {
		processed = sql.NullInt64{Int64: int64(*update.BatchesProcessed), Valid: true}
	}

	allowed := pq.Array(statusStrings(ingestion.AllowedFrom(update.Status)))
	isProcessed := update.Status == ingestion.StatusProcessed

	var row *sql.Row

	if update.ExpectedStatus != "" {
		row = s.conn.QueryRowContext(ctx, conditionalStatusSQL,
			fileID, string(update.Status), isProcessed, processed, update.ProgressMessage, batch,
			string(update.ExpectedStatus), allowed)
	} else {
		row = s.conn.QueryRowContext(ctx, upsertStatusSQL,
			fileID, update.FileName, update.RowCount, string(update.Status), isProcessed,
			processed, update.ProgressMessage, batch, allowed, update.TotalBatches)
	}

	state, err := scanFileState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyRejected(ctx, fileID, update)
	}

	if err != nil {
		return nil, s.wrap("update file state", fileID, err)
	}

	s.logger.Debug("File state updated",
		slog.String("file_id", fileID),
		slog.String("status", state.Status.String()),
		slog.Int("batches_processed", state.BatchesProcessed))

	return state, nil
}

// AppendBatch pushes one audit record and increments batch_count in one statement.
func (s *ProgressStore) AppendBatch(ctx context.Context, fileID string, record ingestion.BatchRecord) error {
	batch, err := marshalBatch(&record)
	if err != nil {
		return err
	}

	result, err := s.conn.ExecContext(ctx, appendBatchSQL, fileID, batch)
	if err != nil {
		return s.wrap("append batch record", fileID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return s.wrap("append batch record", fileID, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrFileStateNotFound, fileID)
	}

	return nil
}

// Get returns the FileState for fileID.
func (s *ProgressStore) Get(ctx context.Context, fileID string) (*ingestion.FileState, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+fileStateColumns+` FROM file_states WHERE file_id = $1`, fileID)

	state, err := scanFileState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ingestion.ErrFileStateNotFound, fileID)
	}

	if err != nil {
		return nil, s.wrap("get file state", fileID, err)
	}

	return state, nil
}

// classifyRejected explains why a guarded update touched no row.
func (s *ProgressStore) classifyRejected(ctx context.Context, fileID string, update ingestion.StatusUpdate) error {
	var current string

	err := s.conn.QueryRowContext(ctx, `SELECT status FROM file_states WHERE file_id = $1`, fileID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ingestion.ErrFileStateNotFound, fileID)
	}

	if err != nil {
		return s.wrap("read file status", fileID, err)
	}

	from := ingestion.Status(current)

	if from.IsTerminal() {
		return fmt.Errorf("%w: file %s is %s", ingestion.ErrTerminalStateImmutable, fileID, from)
	}

	if update.ExpectedStatus != "" && from != update.ExpectedStatus {
		return fmt.Errorf("%w: file %s is %s, expected %s",
			ingestion.ErrStatusConflict, fileID, from, update.ExpectedStatus)
	}

	if err := ingestion.ValidateTransition(from, update.Status); err != nil {
		return fmt.Errorf("file %s: %w", fileID, err)
	}

	// The row changed between the update and this read; report it as a lost race.
	return fmt.Errorf("%w: file %s", ingestion.ErrStatusConflict, fileID)
}

func (s *ProgressStore) wrap(op, fileID string, err error) error {
	if isDatabaseConnectionError(err) {
		return fmt.Errorf("%w: %s %s: %w", ErrStoreUnavailable, op, fileID, err)
	}

	return fmt.Errorf("failed to %s %s: %w", op, fileID, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileState(row rowScanner) (*ingestion.FileState, error) {
	var (
		state   ingestion.FileState
		status  string
		batches []byte
	)

	err := row.Scan(
		&state.FileID,
		&state.FileName,
		&status,
		&state.IsProcessed,
		&state.DateProcessed,
		&state.RowCount,
		&state.BatchesProcessed,
		&state.TotalBatches,
		&state.BatchCount,
		&state.ProgressMessage,
		&batches,
	)
	if err != nil {
		return nil, err
	}

	state.Status = ingestion.Status(status)

	if len(batches) > 0 {
		if err := json.Unmarshal(batches, &state.Batches); err != nil {
			return nil, fmt.Errorf("failed to decode batches of %s: %w", state.FileID, err)
		}
	}

	if state.Batches == nil {
		state.Batches = []ingestion.BatchRecord{}
	}

	return &state, nil
}

func marshalBatches(batches []ingestion.BatchRecord) (string, error) {
	if len(batches) == 0 {
		return "[]", nil
	}

	data, err := json.Marshal(batches)
	if err != nil {
		return "", fmt.Errorf("failed to encode batch records: %w", err)
	}

	return string(data), nil
}

// marshalBatch returns a NULL parameter for a nil record.
func marshalBatch(record *ingestion.BatchRecord) (sql.NullString, error) {
	if record == nil {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode batch record: %w", err)
	}

	return sql.NullString{String: string(data), Valid: true}, nil
}

func statusStrings(statuses []ingestion.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}

	return out
}
