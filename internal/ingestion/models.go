// Package ingestion provides the domain model for CSV batch ingestion.
//
// A file moves through the pipeline in three hops: the Uploader parses it and
// publishes one IngestionMessage, the Message Channel carries it, and the Ingestor
// upserts its rows in fixed-size batches while recording progress as a FileState.
package ingestion

import (
	"encoding/json"
	"strconv"
	"time"
)

// DefaultBatchSize is the number of rows committed per transaction.
const DefaultBatchSize = 10000

// Status values for FileState.
const (
	StatusUploaded   Status = "Uploaded"
	StatusQueued     Status = "Queued"
	StatusReceived   Status = "Received"
	StatusProcessing Status = "Processing"
	StatusProcessed  Status = "Processed"
	StatusError      Status = "Error"
)

// BatchStatusCommitted marks a batch record whose transaction committed.
const BatchStatusCommitted = "Committed"

type (
	// Status is the lifecycle state of an uploaded file.
	Status string

	// Row maps a column name to a cell value. Cells are string, json.Number, bool or nil.
	Row map[string]any

	// TabularPayload is a parsed file: ordered column names plus ordered rows.
	// It is immutable once serialized into a message.
	TabularPayload struct {
		Columns []string `json:"Columns"`
		Rows    []Row    `json:"Rows"`
	}

	// IngestionMessage is the unit carried by the Message Channel, one per uploaded file.
	IngestionMessage struct {
		FileID string         `json:"FileId"`
		Data   TabularPayload `json:"Data"`
	}

	// BatchRecord is one entry of a FileState's audit trail.
	// Start is inclusive and End is exclusive, both zero-based row offsets.
	BatchRecord struct {
		ID     string `json:"bId"`
		Status string `json:"batchStatus"`
		Start  int    `json:"batchStart"`
		End    int    `json:"batchEnd"`
	}

	// FileState is the progress record of one upload, keyed by FileID.
	//
	// BatchesProcessed counts committed rows, not batches. It never decreases while
	// the file is in a non-terminal state and is frozen once Status is Error.
	FileState struct {
		FileID           string        `json:"fileId"`
		FileName         string        `json:"fileName"`
		Status           Status        `json:"status"`
		IsProcessed      bool          `json:"isProcessed"`
		DateProcessed    time.Time     `json:"dateProcessed"`
		RowCount         int           `json:"rowCount"`
		BatchesProcessed int           `json:"batchesProcessed"`
		TotalBatches     int           `json:"totalBatches"`
		BatchCount       int           `json:"batchCount"`
		ProgressMessage  string        `json:"progressMessage"`
		Batches          []BatchRecord `json:"batches"`
	}

	// StatusUpdate describes one atomic change to a FileState.
	StatusUpdate struct {
		// Status is the target state. IsProcessed is derived from it.
		Status Status

		// ExpectedStatus, when set, makes the update conditional on the current state.
		ExpectedStatus Status

		// BatchesProcessed replaces the committed row count. Nil leaves it unchanged.
		BatchesProcessed *int

		// ProgressMessage replaces the progress message. Empty leaves it unchanged.
		ProgressMessage string

		// FileName is only used when the update creates the record.
		FileName string

		// RowCount and TotalBatches fill in a record whose row count is still zero,
		// which is the case when the consumer created it.
		RowCount     int
		TotalBatches int

		// Batch, when set, is appended to the audit trail and bumps BatchCount.
		Batch *BatchRecord
	}
)

// ValidStatuses returns every lifecycle state in pipeline order.
func ValidStatuses() []Status {
	return []Status{
		StatusUploaded,
		StatusQueued,
		StatusReceived,
		StatusProcessing,
		StatusProcessed,
		StatusError,
	}
}

func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	for _, v := range ValidStatuses() {
		if s == v {
			return true
		}
	}

	return false
}

// IsTerminal reports whether s is Processed or Error.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusError
}

// RowCount returns the number of data rows.
func (p *TabularPayload) RowCount() int {
	return len(p.Rows)
}

// Percentage returns committed rows as a share of RowCount.
func (s *FileState) Percentage() float64 {
	if s.Status == StatusProcessed {
		return 100
	}

	if s.RowCount <= 0 {
		return 0
	}

	return float64(s.BatchesProcessed) / float64(s.RowCount) * 100
}

// CellText renders a cell for a text bind parameter. ok is false for NULL.
func CellText(v any) (text string, ok bool) {
	switch c := v.(type) {
	case nil:
		return "", false
	case string:
		return c, true
	case json.Number:
		return c.String(), true
	case bool:
		return strconv.FormatBool(c), true
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64), true
	case int:
		return strconv.Itoa(c), true
	case int64:
		return strconv.FormatInt(c, 10), true
	default:
		return "", false
	}
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
