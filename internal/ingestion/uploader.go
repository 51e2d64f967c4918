package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sheetpipe-io/sheetpipe/internal/metrics"
)

type (
	// Uploader is the producer side of the pipeline: it parses an upload, records the
	// initial FileState and publishes one IngestionMessage.
	Uploader struct {
		store     ProgressStore
		publisher Publisher
		batchSize int
		logger    *slog.Logger
		metrics   *metrics.Pipeline
		newID     func() string
	}

	// UploadResult acknowledges an accepted upload. Ingestion continues asynchronously;
	// callers poll the FileState by FileID.
	UploadResult struct {
		FileID       string `json:"fileId"`
		FileName     string `json:"fileName"`
		RowCount     int    `json:"rowCount"`
		TotalBatches int    `json:"totalBatches"`
		Status       Status `json:"status"`
	}
)

// NewUploader creates an Uploader. A batchSize below 1 selects DefaultBatchSize.
func NewUploader(
	store ProgressStore,
	publisher Publisher,
	batchSize int,
	logger *slog.Logger,
	m *metrics.Pipeline,
) *Uploader {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger,
		metrics:   m,
		newID:     uuid.NewString,
	}
}

// Upload parses r and enqueues it for ingestion.
//
// Parse failures return ErrEmptyInput or ErrMalformedInput before anything is written.
// The Uploaded state is recorded before publishing, so a crash in between leaves a
// visible "Uploaded but never Queued" record rather than an orphaned message. A
// publish failure returns ErrPublish and leaves the file Uploaded.
func (u *Uploader) Upload(ctx context.Context, fileName string, r io.Reader) (*UploadResult, error) {
	payload, err := ParseCSV(r)
	if err != nil {
		u.metrics.RecordUpload(metrics.UploadRejectedInput, 0)

		return nil, err
	}

	fileID := u.newID()
	rowCount := payload.RowCount()
	totalBatches := TotalBatches(rowCount, u.batchSize)

	logger := u.logger.With(slog.String("file_id", fileID), slog.String("file_name", fileName))

	err = u.store.Insert(ctx, &FileState{
		FileID:       fileID,
		FileName:     fileName,
		Status:       StatusUploaded,
		RowCount:     rowCount,
		TotalBatches: totalBatches,
	})
	if err != nil {
		u.metrics.RecordUpload(metrics.UploadStoreFailure, 0)

		return nil, fmt.Errorf("failed to record upload %s: %w", fileID, err)
	}

	body, err := EncodeMessage(&IngestionMessage{FileID: fileID, Data: *payload})
	if err != nil {
		u.metrics.RecordUpload(metrics.UploadPublishFailure, 0)

		return nil, err
	}

	start := time.Now()

	if err := u.publisher.Publish(ctx, fileID, body); err != nil {
		u.metrics.RecordUpload(metrics.UploadPublishFailure, 0)
		logger.Error("Failed to publish ingestion message",
			slog.Int("message_bytes", len(body)),
			slog.String("error", err.Error()))

		// Retrying cannot shrink the file.
		if errors.Is(err, ErrPayloadTooLarge) {
			return nil, fmt.Errorf("file %s: %w", fileID, err)
		}

		return nil, fmt.Errorf("%w: file %s: %w", ErrPublish, fileID, err)
	}

	u.metrics.RecordPublish(time.Since(start))

	result := &UploadResult{
		FileID:       fileID,
		FileName:     fileName,
		RowCount:     rowCount,
		TotalBatches: totalBatches,
		Status:       StatusQueued,
	}

	// The message is already on the channel, so a failed Queued write is reported
	// in the log and the result rather than as an upload failure.
	_, err = u.store.UpsertStatus(ctx, fileID, StatusUpdate{
		Status:         StatusQueued,
		ExpectedStatus: StatusUploaded,
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrTerminalStateImmutable):
		logger.Debug("Consumer advanced file before Queued was recorded")
	default:
		logger.Warn("Failed to record Queued status", slog.String("error", err.Error()))

		result.Status = StatusUploaded
	}

	u.metrics.RecordUpload(metrics.UploadAccepted, rowCount)

	logger.Info("File queued for ingestion",
		slog.Int("row_count", rowCount),
		slog.Int("total_batches", totalBatches),
		slog.Int("message_bytes", len(body)))

	return result, nil
}
