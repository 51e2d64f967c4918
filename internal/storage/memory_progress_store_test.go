package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

func TestInMemoryProgressStore(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := t.Context()

	uploaded := func(id string) *ingestion.FileState {
		return &ingestion.FileState{
			FileID:       id,
			FileName:     "people.csv",
			Status:       ingestion.StatusUploaded,
			RowCount:     25000,
			TotalBatches: 3,
		}
	}

	t.Run("insert and get", func(t *testing.T) {
		store := NewInMemoryProgressStore()

		require.NoError(t, store.Insert(ctx, uploaded("f1")))

		got, err := store.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, ingestion.StatusUploaded, got.Status)
		assert.Equal(t, 3, got.TotalBatches)
		assert.False(t, got.IsProcessed)
		assert.False(t, got.DateProcessed.IsZero())
	})

	t.Run("duplicate insert", func(t *testing.T) {
		store := NewInMemoryProgressStore()

		require.NoError(t, store.Insert(ctx, uploaded("f1")))
		assert.ErrorIs(t, store.Insert(ctx, uploaded("f1")), ingestion.ErrDuplicateFileState)
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := NewInMemoryProgressStore().Get(ctx, "missing")
		assert.ErrorIs(t, err, ingestion.ErrFileStateNotFound)
	})

	t.Run("upsert creates absent record", func(t *testing.T) {
		store := NewInMemoryProgressStore()

		state, err := store.UpsertStatus(ctx, "f2", ingestion.StatusUpdate{
			Status:          ingestion.StatusReceived,
			ProgressMessage: "Uploaded",
		})
		require.NoError(t, err)
		assert.Equal(t, ingestion.StatusReceived, state.Status)
		assert.Equal(t, "Uploaded", state.ProgressMessage)
	})

	t.Run("upsert fills in a zero row count", func(t *testing.T) {
		store := NewInMemoryProgressStore()

		_, err := store.UpsertStatus(ctx, "f3", ingestion.StatusUpdate{Status: ingestion.StatusReceived})
		require.NoError(t, err)

		state, err := store.UpsertStatus(ctx, "f3", ingestion.StatusUpdate{
			Status:           ingestion.StatusProcessing,
			BatchesProcessed: ingestion.IntPtr(10000),
			RowCount:         25000,
			TotalBatches:     3,
		})
		require.NoError(t, err)
		assert.Equal(t, 25000, state.RowCount)
		assert.Equal(t, 3, state.TotalBatches)

		state, err = store.UpsertStatus(ctx, "f3", ingestion.StatusUpdate{
			Status:       ingestion.StatusProcessing,
			RowCount:     1,
			TotalBatches: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, 25000, state.RowCount)
		assert.Equal(t, 3, state.TotalBatches)
	})

	t.Run("batch progress and audit trail", func(t *testing.T) {
		store := NewInMemoryProgressStore()
		require.NoError(t, store.Insert(ctx, uploaded("f1")))

		_, err := store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{Status: ingestion.StatusReceived})
		require.NoError(t, err)

		record := ingestion.BatchRange{Index: 0, Start: 0, End: 10000}.Record()
		state, err := store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{
			Status:           ingestion.StatusProcessing,
			BatchesProcessed: ingestion.IntPtr(10000),
			ProgressMessage:  "Progress: 40.00%",
			Batch:            &record,
		})
		require.NoError(t, err)
		assert.Equal(t, 10000, state.BatchesProcessed)
		assert.Equal(t, 1, state.BatchCount)
		require.Len(t, state.Batches, 1)
		assert.Equal(t, "1", state.Batches[0].ID)

		require.NoError(t, store.AppendBatch(ctx, "f1", ingestion.BatchRecord{ID: "audit"}))

		got, err := store.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.BatchCount)
		assert.Len(t, got.Batches, 2)
		assert.Equal(t, 10000, got.BatchesProcessed, "append leaves counters alone")
	})

	t.Run("processed sets isProcessed", func(t *testing.T) {
		store := NewInMemoryProgressStore()
		require.NoError(t, store.Insert(ctx, uploaded("f1")))

		_, err := store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{Status: ingestion.StatusReceived})
		require.NoError(t, err)

		state, err := store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{
			Status:           ingestion.StatusProcessed,
			BatchesProcessed: ingestion.IntPtr(25000),
		})
		require.NoError(t, err)
		assert.True(t, state.IsProcessed)
		assert.Equal(t, 25000, state.BatchesProcessed)
	})

	t.Run("terminal states are immutable", func(t *testing.T) {
		store := NewInMemoryProgressStore()
		require.NoError(t, store.Insert(ctx, uploaded("f1")))

		_, err := store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{Status: ingestion.StatusReceived})
		require.NoError(t, err)

		_, err = store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{
			Status:          ingestion.StatusError,
			ProgressMessage: "boom",
		})
		require.NoError(t, err)

		_, err = store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{Status: ingestion.StatusProcessing})
		assert.ErrorIs(t, err, ingestion.ErrTerminalStateImmutable)

		got, err := store.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, ingestion.StatusError, got.Status)
		assert.Equal(t, "boom", got.ProgressMessage)
	})

	t.Run("invalid transition", func(t *testing.T) {
		store := NewInMemoryProgressStore()
		require.NoError(t, store.Insert(ctx, uploaded("f1")))

		_, err := store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{Status: ingestion.StatusProcessed})
		assert.ErrorIs(t, err, ingestion.ErrInvalidTransition)
	})

	t.Run("conditional update", func(t *testing.T) {
		store := NewInMemoryProgressStore()
		require.NoError(t, store.Insert(ctx, uploaded("f1")))

		_, err := store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{Status: ingestion.StatusReceived})
		require.NoError(t, err)

		_, err = store.UpsertStatus(ctx, "f1", ingestion.StatusUpdate{
			Status:         ingestion.StatusQueued,
			ExpectedStatus: ingestion.StatusUploaded,
		})
		assert.ErrorIs(t, err, ingestion.ErrStatusConflict)

		_, err = store.UpsertStatus(ctx, "missing", ingestion.StatusUpdate{
			Status:         ingestion.StatusQueued,
			ExpectedStatus: ingestion.StatusUploaded,
		})
		assert.ErrorIs(t, err, ingestion.ErrFileStateNotFound)
	})

	t.Run("append to unknown file", func(t *testing.T) {
		err := NewInMemoryProgressStore().AppendBatch(ctx, "missing", ingestion.BatchRecord{})
		assert.ErrorIs(t, err, ingestion.ErrFileStateNotFound)
	})

	t.Run("returned states are copies", func(t *testing.T) {
		store := NewInMemoryProgressStore()
		require.NoError(t, store.Insert(ctx, uploaded("f1")))

		got, err := store.Get(ctx, "f1")
		require.NoError(t, err)

		got.Status = ingestion.StatusError
		got.Batches = append(got.Batches, ingestion.BatchRecord{ID: "x"})

		again, err := store.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, ingestion.StatusUploaded, again.Status)
		assert.Empty(t, again.Batches)
	})
}

func TestInMemoryProgressStore_ConcurrentFiles(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := t.Context()
	store := NewInMemoryProgressStore()

	const files = 20

	var wg sync.WaitGroup

	for f := range files {
		wg.Add(1)

		go func(f int) {
			defer wg.Done()

			id := fmt.Sprintf("file-%d", f)
			_, _ = store.UpsertStatus(ctx, id, ingestion.StatusUpdate{Status: ingestion.StatusReceived, FileName: id})

			for b := 1; b <= 5; b++ {
				record := ingestion.BatchRecord{ID: fmt.Sprint(b)}
				_, _ = store.UpsertStatus(ctx, id, ingestion.StatusUpdate{
					Status:           ingestion.StatusProcessing,
					BatchesProcessed: ingestion.IntPtr(b * (f + 1)),
					Batch:            &record,
				})
			}
		}(f)
	}

	wg.Wait()

	for f := range files {
		id := fmt.Sprintf("file-%d", f)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.FileName)
		assert.Equal(t, 5*(f+1), got.BatchesProcessed)
		assert.Equal(t, 5, got.BatchCount)
	}
}
