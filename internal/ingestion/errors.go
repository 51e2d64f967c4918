package ingestion

import "errors"

// Sentinel errors for the ingestion pipeline.
// Callers check them with errors.Is; wrapped errors carry the detail.
var (
	// ErrEmptyInput indicates an upload with zero bytes or zero data rows.
	ErrEmptyInput = errors.New("empty input")

	// ErrMalformedInput indicates an upload that could not be parsed as CSV.
	ErrMalformedInput = errors.New("malformed input")

	// ErrPublish indicates the message could not be handed to the Message Channel.
	ErrPublish = errors.New("publish failed")

	// ErrPayloadTooLarge indicates a serialized file the Message Channel will never accept.
	ErrPayloadTooLarge = errors.New("payload exceeds the message size limit")

	// ErrDeserialization indicates a message payload that does not match the envelope schema.
	ErrDeserialization = errors.New("deserialization failed")

	// ErrBatchExecution indicates a batch upsert that was rolled back.
	ErrBatchExecution = errors.New("batch execution failed")

	// ErrKeyColumnMissing indicates the upsert key column is absent from the payload or target table.
	ErrKeyColumnMissing = errors.New("key column missing")

	// ErrDuplicateFileState indicates an insert for a fileId that already has a FileState.
	ErrDuplicateFileState = errors.New("file state already exists")

	// ErrFileStateNotFound indicates no FileState exists for the fileId.
	ErrFileStateNotFound = errors.New("file state not found")

	// ErrStatusConflict indicates a conditional update whose expected status no longer holds.
	ErrStatusConflict = errors.New("file status changed concurrently")
)
