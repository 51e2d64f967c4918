package ingestion

import "context"

// ProgressStore persists FileState records.
//
// The domain defines what it needs here; PostgreSQL and in-memory implementations
// live in internal/storage. Every write sets DateProcessed to the current time.
type ProgressStore interface {
	// Insert writes the first FileState for a file.
	// Returns ErrDuplicateFileState if the fileId already exists.
	Insert(ctx context.Context, state *FileState) error

	// UpsertStatus applies update as one atomic write and returns the resulting state.
	//
	// A missing record is created, which lets a consumer run ahead of the producer.
	// An existing record must allow the transition (see ValidateTransition): terminal
	// records yield ErrTerminalStateImmutable and other refusals ErrInvalidTransition.
	// A set ExpectedStatus that no longer matches yields ErrStatusConflict.
	UpsertStatus(ctx context.Context, fileID string, update StatusUpdate) (*FileState, error)

	// AppendBatch atomically pushes one audit record and increments BatchCount.
	// Returns ErrFileStateNotFound if the fileId is unknown.
	AppendBatch(ctx context.Context, fileID string, record BatchRecord) error

	// Get returns the FileState for fileID or ErrFileStateNotFound.
	Get(ctx context.Context, fileID string) (*FileState, error)

	// HealthCheck reports whether the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// Column is a target table column with its SQL type as reported by the database.
type Column struct {
	Name string
	Type string
}

// UpsertPlan is the resolved, allow-listed column set for one file.
type UpsertPlan struct {
	Table     string
	KeyColumn string

	// Columns are the payload columns that will be written, key column included,
	// in payload order.
	Columns []Column

	// Ignored are payload columns outside the allow-list or absent from the table.
	Ignored []string
}

// TableWriter upserts rows into the relational target.
type TableWriter interface {
	// Prepare resolves payload columns against the allow-list and the live table schema.
	// Returns ErrKeyColumnMissing when the key column cannot be written.
	Prepare(ctx context.Context, columns []string) (*UpsertPlan, error)

	// UpsertBatch writes rows in one transaction: commit on success, rollback on any error.
	// It returns the number of rows inserted or updated.
	UpsertBatch(ctx context.Context, plan *UpsertPlan, rows []Row) (int64, error)
}

// Delivery is one message read from the Message Channel.
type Delivery struct {
	Key   string
	Value []byte

	// Source is adapter bookkeeping handed back on Ack.
	Source any
}

// Publisher hands serialized messages to the Message Channel.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Subscriber reads messages from the Message Channel with explicit acknowledgement.
// A message that is never acknowledged is redelivered.
type Subscriber interface {
	Fetch(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
}
