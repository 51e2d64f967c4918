package ingestion

import (
	"fmt"
	"strconv"
)

// BatchRange is a contiguous slice of a file's rows, [Start, End).
type BatchRange struct {
	Index int
	Start int
	End   int
}

// Size returns the number of rows in the range.
func (b BatchRange) Size() int {
	return b.End - b.Start
}

// Record returns the committed audit entry for the range. Batch ids are one-based.
func (b BatchRange) Record() BatchRecord {
	return BatchRecord{
		ID:     strconv.Itoa(b.Index + 1),
		Status: BatchStatusCommitted,
		Start:  b.Start,
		End:    b.End,
	}
}

// TotalBatches returns ceil(rowCount / batchSize).
func TotalBatches(rowCount, batchSize int) int {
	if rowCount <= 0 || batchSize <= 0 {
		return 0
	}

	return (rowCount + batchSize - 1) / batchSize
}

// Partition splits rowCount rows into ordered ranges of batchSize, starting at the
// batch that contains row offset from. The last range may be shorter.
func Partition(rowCount, batchSize, from int) []BatchRange {
	if rowCount <= 0 || batchSize <= 0 {
		return nil
	}

	if from < 0 {
		from = 0
	}

	if from >= rowCount {
		return nil
	}

	first := from / batchSize
	total := TotalBatches(rowCount, batchSize)
	ranges := make([]BatchRange, 0, max(total-first, 0))

	for i := first; i < total; i++ {
		end := min((i+1)*batchSize, rowCount)
		ranges = append(ranges, BatchRange{Index: i, Start: i * batchSize, End: end})
	}

	return ranges
}

// ResumeOffset returns the first row not yet reflected in committed, aligned down to
// a batch boundary. Rows between the boundary and committed are replayed; the upsert
// makes that harmless and keeps the committed counter monotonic.
func ResumeOffset(committed, rowCount, batchSize int) int {
	if committed <= 0 || batchSize <= 0 {
		return 0
	}

	if committed >= rowCount {
		return rowCount
	}

	return (committed / batchSize) * batchSize
}

// ProgressMessage formats committed rows as a percentage of rowCount.
func ProgressMessage(committed, rowCount int) string {
	if rowCount <= 0 {
		return "Progress: 0.00%"
	}

	return fmt.Sprintf("Progress: %.2f%%", float64(committed)/float64(rowCount)*100)
}
