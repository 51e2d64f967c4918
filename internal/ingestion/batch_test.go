package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTotalBatches(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		rows      int
		batchSize int
		want      int
	}{
		{"empty", 0, 10000, 0},
		{"single partial", 1, 10000, 1},
		{"exact multiple", 20000, 10000, 2},
		{"remainder", 25000, 10000, 3},
		{"invalid batch size", 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TotalBatches(tt.rows, tt.batchSize))
		})
	}
}

func TestPartition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("covers every row once in order", func(t *testing.T) {
		ranges := Partition(25000, 10000, 0)

		assert.Equal(t, []BatchRange{
			{Index: 0, Start: 0, End: 10000},
			{Index: 1, Start: 10000, End: 20000},
			{Index: 2, Start: 20000, End: 25000},
		}, ranges)
		assert.Equal(t, 5000, ranges[2].Size())
	})

	t.Run("starts at the batch holding from", func(t *testing.T) {
		ranges := Partition(25000, 10000, 10000)

		assert.Len(t, ranges, 2)
		assert.Equal(t, 1, ranges[0].Index)
		assert.Equal(t, 10000, ranges[0].Start)
	})

	t.Run("from past the end yields nothing", func(t *testing.T) {
		assert.Empty(t, Partition(25000, 10000, 25000))
	})

	t.Run("no rows", func(t *testing.T) {
		assert.Nil(t, Partition(0, 10000, 0))
	})
}

func TestResumeOffset(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, 0, ResumeOffset(0, 25000, 10000))
	assert.Equal(t, 10000, ResumeOffset(10000, 25000, 10000))
	assert.Equal(t, 10000, ResumeOffset(15000, 25000, 10000), "aligned down to a batch boundary")
	assert.Equal(t, 25000, ResumeOffset(25000, 25000, 10000))
	assert.Equal(t, 25000, ResumeOffset(30000, 25000, 10000))

	assert.Empty(t, Partition(25000, 10000, ResumeOffset(25000, 25000, 10000)),
		"a fully committed file with a partial last batch has nothing left to replay")
	assert.Len(t, Partition(25000, 10000, ResumeOffset(24999, 25000, 10000)), 1)
}

func TestBatchRecordAndProgress(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	record := BatchRange{Index: 2, Start: 20000, End: 25000}.Record()

	assert.Equal(t, BatchRecord{ID: "3", Status: BatchStatusCommitted, Start: 20000, End: 25000}, record)
	assert.Equal(t, "Progress: 40.00%", ProgressMessage(10000, 25000))
	assert.Equal(t, "Progress: 100.00%", ProgressMessage(25000, 25000))
	assert.Equal(t, "Progress: 0.00%", ProgressMessage(0, 0))
}

func TestFileStatePercentage(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	state := &FileState{Status: StatusProcessing, RowCount: 25000, BatchesProcessed: 20000}
	assert.InDelta(t, 80.0, state.Percentage(), 0.001)

	state.Status = StatusProcessed
	assert.InDelta(t, 100.0, state.Percentage(), 0.001)

	assert.Zero(t, (&FileState{Status: StatusQueued}).Percentage())
}
