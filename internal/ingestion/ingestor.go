package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheetpipe-io/sheetpipe/internal/metrics"
)

// DefaultBatchTimeout bounds one batch transaction.
const DefaultBatchTimeout = 2 * time.Minute

type (
	// IngestorConfig tunes batch processing.
	IngestorConfig struct {
		BatchSize    int
		BatchTimeout time.Duration
	}

	// Ingestor is the consumer side of the pipeline. For each message it upserts the
	// file's rows batch by batch and records progress after every commit.
	//
	// Batches of one file run strictly in sequence. Files are isolated by fileId, so
	// several Ingestors may share a ProgressStore and TableWriter.
	Ingestor struct {
		subscriber Subscriber
		store      ProgressStore
		writer     TableWriter
		config     IngestorConfig
		logger     *slog.Logger
		metrics    *metrics.Pipeline
	}
)

// NewIngestor creates an Ingestor. Zero config values select the defaults.
func NewIngestor(
	subscriber Subscriber,
	store ProgressStore,
	writer TableWriter,
	config IngestorConfig,
	logger *slog.Logger,
	m *metrics.Pipeline,
) *Ingestor {
	if config.BatchSize < 1 {
		config.BatchSize = DefaultBatchSize
	}

	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultBatchTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Ingestor{
		subscriber: subscriber,
		store:      store,
		writer:     writer,
		config:     config,
		logger:     logger,
		metrics:    m,
	}
}

// Run consumes messages until ctx is cancelled.
//
// A message is acknowledged only once its file is terminal (or it cannot name a
// file). When processing stops without a terminal state, because of shutdown or an
// unreachable progress store, Run returns without acknowledging so the message is
// redelivered. Shutdown returns nil.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		delivery, err := i.subscriber.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := i.Process(ctx, delivery); err != nil {
			if ctx.Err() != nil {
				i.metrics.RecordMessage(metrics.MessageAbandoned)
				i.logger.Info("Shutdown during ingestion, message left for redelivery",
					slog.String("key", delivery.Key))

				return nil
			}

			return err
		}

		if err := i.subscriber.Ack(ctx, delivery); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to acknowledge message %s: %w", delivery.Key, err)
		}
	}
}

// Process ingests one message. A nil return means the message is settled and may be
// acknowledged; a non-nil return means it must be left for redelivery.
func (i *Ingestor) Process(ctx context.Context, d Delivery) error {
	fileID, raw, err := DecodeEnvelope(d.Value)
	if err != nil {
		// Without a fileId there is no FileState to fail; redelivery cannot help.
		i.metrics.RecordMessage(metrics.MessageUndecodable)
		i.logger.Error("Discarding undecodable message",
			slog.String("key", d.Key),
			slog.String("error", err.Error()))

		return nil
	}

	logger := i.logger.With(slog.String("file_id", fileID))

	existing, err := i.store.Get(ctx, fileID)

	switch {
	case errors.Is(err, ErrFileStateNotFound):
		existing = nil
	case err != nil:
		return fmt.Errorf("failed to read file state %s: %w", fileID, err)
	}

	if existing != nil && existing.Status.IsTerminal() {
		i.metrics.RecordMessage(metrics.MessageSkippedTerminal)
		logger.Info("File already terminal, skipping redelivered message",
			slog.String("status", existing.Status.String()))

		return nil
	}

	committed := 0
	if existing != nil {
		committed = existing.BatchesProcessed
	}

	// A file already Processing is a redelivery; moving it back to Received would
	// regress the visible state.
	if existing == nil || existing.Status != StatusProcessing {
		_, err = i.store.UpsertStatus(ctx, fileID, StatusUpdate{
			Status:          StatusReceived,
			ProgressMessage: string(StatusUploaded),
		})
		if errors.Is(err, ErrTerminalStateImmutable) {
			i.metrics.RecordMessage(metrics.MessageSkippedTerminal)

			return nil
		}

		if err != nil {
			return fmt.Errorf("failed to mark file %s received: %w", fileID, err)
		}
	}

	payload, err := DecodePayload(raw)
	if err != nil {
		return i.fail(ctx, logger, fileID, err)
	}

	plan, err := i.writer.Prepare(ctx, payload.Columns)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return i.fail(ctx, logger, fileID, err)
	}

	if len(plan.Ignored) > 0 {
		logger.Warn("Ignoring columns outside the target allow-list", slog.Any("columns", plan.Ignored))
	}

	rowCount := payload.RowCount()
	offset := ResumeOffset(committed, rowCount, i.config.BatchSize)

	if offset > 0 {
		logger.Info("Resuming ingestion", slog.Int("offset", offset), slog.Int("row_count", rowCount))
	}

	started := time.Now()

	for _, batch := range Partition(rowCount, i.config.BatchSize, offset) {
		if err := i.runBatch(ctx, logger, fileID, plan, payload, batch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if errors.Is(err, ErrBatchExecution) {
				return i.fail(ctx, logger, fileID, err)
			}

			return err
		}
	}

	_, err = i.store.UpsertStatus(ctx, fileID, StatusUpdate{
		Status:           StatusProcessed,
		BatchesProcessed: IntPtr(rowCount),
		ProgressMessage:  ProgressMessage(rowCount, rowCount),
		RowCount:         rowCount,
		TotalBatches:     TotalBatches(rowCount, i.config.BatchSize),
	})
	if err != nil && !errors.Is(err, ErrTerminalStateImmutable) {
		return fmt.Errorf("failed to mark file %s processed: %w", fileID, err)
	}

	i.metrics.RecordMessage(metrics.MessageProcessed)
	i.metrics.RecordFileCompleted(StatusProcessed.String())

	logger.Info("File processed",
		slog.Int("row_count", rowCount),
		slog.Duration("duration", time.Since(started)))

	return nil
}

// runBatch commits one batch and records it. Errors wrapping ErrBatchExecution mean the
// batch was rolled back; any other error comes from the progress store.
func (i *Ingestor) runBatch(
	ctx context.Context,
	logger *slog.Logger,
	fileID string,
	plan *UpsertPlan,
	payload *TabularPayload,
	batch BatchRange,
) error {
	batchCtx, cancel := context.WithTimeout(ctx, i.config.BatchTimeout)
	defer cancel()

	start := time.Now()

	affected, err := i.writer.UpsertBatch(batchCtx, plan, payload.Rows[batch.Start:batch.End])
	if err != nil {
		i.metrics.RecordBatchFailed(time.Since(start))

		// Drivers report a cancelled statement in their own terms, so the deadline is
		// read from the batch context.
		if errors.Is(batchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("batch timed out after %s: %w", i.config.BatchTimeout, err)
		}

		return fmt.Errorf("%w: batch %d rows %d-%d: %w",
			ErrBatchExecution, batch.Index+1, batch.Start, batch.End, err)
	}

	i.metrics.RecordBatchCommitted(batch.Size(), time.Since(start))

	record := batch.Record()

	_, err = i.store.UpsertStatus(ctx, fileID, StatusUpdate{
		Status:           StatusProcessing,
		BatchesProcessed: IntPtr(batch.End),
		ProgressMessage:  ProgressMessage(batch.End, len(payload.Rows)),
		RowCount:         len(payload.Rows),
		TotalBatches:     TotalBatches(len(payload.Rows), i.config.BatchSize),
		Batch:            &record,
	})
	if err != nil {
		return fmt.Errorf("failed to record batch %d of file %s: %w", batch.Index+1, fileID, err)
	}

	logger.Debug("Batch committed",
		slog.Int("batch", batch.Index+1),
		slog.Int("rows", batch.Size()),
		slog.Int64("affected", affected),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// fail moves the file to Error with cause as the progress message. The message is
// then settled: redelivering it would fail the same way.
func (i *Ingestor) fail(ctx context.Context, logger *slog.Logger, fileID string, cause error) error {
	logger.Error("File ingestion failed", slog.String("error", cause.Error()))

	_, err := i.store.UpsertStatus(ctx, fileID, StatusUpdate{
		Status:          StatusError,
		ProgressMessage: cause.Error(),
	})
	if err != nil && !errors.Is(err, ErrTerminalStateImmutable) {
		return fmt.Errorf("failed to mark file %s as error: %w", fileID, err)
	}

	i.metrics.RecordMessage(metrics.MessageFailed)
	i.metrics.RecordFileCompleted(StatusError.String())

	return nil
}
