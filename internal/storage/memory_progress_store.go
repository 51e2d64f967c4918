package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

var _ ingestion.ProgressStore = (*InMemoryProgressStore)(nil)

// InMemoryProgressStore is a thread-safe ingestion.ProgressStore for tests and
// single-process development. It enforces the same transition rules as ProgressStore.
type InMemoryProgressStore struct {
	// states maps fileId to its current FileState
	states map[string]*ingestion.FileState
	// history records every committed snapshot per fileId, oldest first
	history map[string][]ingestion.FileState
	// mutex protects concurrent access to both maps
	mutex sync.RWMutex
	now   func() time.Time
}

// NewInMemoryProgressStore creates an empty in-memory progress store.
func NewInMemoryProgressStore() *InMemoryProgressStore {
	return &InMemoryProgressStore{
		states:  make(map[string]*ingestion.FileState),
		history: make(map[string][]ingestion.FileState),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck always succeeds.
func (s *InMemoryProgressStore) HealthCheck(_ context.Context) error {
	return nil
}

// Insert stores the initial FileState.
func (s *InMemoryProgressStore) Insert(_ context.Context, state *ingestion.FileState) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.states[state.FileID]; exists {
		return fmt.Errorf("%w: %s", ingestion.ErrDuplicateFileState, state.FileID)
	}

	stored := cloneState(state)
	stored.IsProcessed = stored.Status == ingestion.StatusProcessed
	stored.DateProcessed = s.now()
	stored.BatchCount = len(stored.Batches)

	s.commit(stored)

	return nil
}

// UpsertStatus applies update atomically under the store lock.
func (s *InMemoryProgressStore) UpsertStatus(
	_ context.Context,
	fileID string,
	update ingestion.StatusUpdate,
) (*ingestion.FileState, error) {
	if !update.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ingestion.ErrInvalidTransition, update.Status)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, exists := s.states[fileID]

	var next *ingestion.FileState

	switch {
	case !exists && update.ExpectedStatus != "":
		return nil, fmt.Errorf("%w: %s", ingestion.ErrFileStateNotFound, fileID)
	case !exists:
		next = &ingestion.FileState{
			FileID:       fileID,
			FileName:     update.FileName,
			RowCount:     update.RowCount,
			TotalBatches: update.TotalBatches,
			Batches:      []ingestion.BatchRecord{},
		}
	default:
		if current.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: file %s is %s", ingestion.ErrTerminalStateImmutable, fileID, current.Status)
		}

		if update.ExpectedStatus != "" && current.Status != update.ExpectedStatus {
			return nil, fmt.Errorf("%w: file %s is %s, expected %s",
				ingestion.ErrStatusConflict, fileID, current.Status, update.ExpectedStatus)
		}

		if err := ingestion.ValidateTransition(current.Status, update.Status); err != nil {
			return nil, fmt.Errorf("file %s: %w", fileID, err)
		}

		next = cloneState(current)
	}

	next.Status = update.Status
	next.IsProcessed = update.Status == ingestion.StatusProcessed
	next.DateProcessed = s.now()

	if next.RowCount == 0 && update.RowCount > 0 {
		next.RowCount = update.RowCount
		next.TotalBatches = update.TotalBatches
	}

	if update.BatchesProcessed != nil {
		next.BatchesProcessed = *update.BatchesProcessed
	}

	if update.ProgressMessage != "" {
		next.ProgressMessage = update.ProgressMessage
	}

	if update.Batch != nil {
		next.Batches = append(next.Batches, *update.Batch)
		next.BatchCount++
	}

	s.commit(next)

	return cloneState(next), nil
}

// AppendBatch pushes one audit record and increments BatchCount.
func (s *InMemoryProgressStore) AppendBatch(_ context.Context, fileID string, record ingestion.BatchRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, exists := s.states[fileID]
	if !exists {
		return fmt.Errorf("%w: %s", ingestion.ErrFileStateNotFound, fileID)
	}

	next := cloneState(current)
	next.Batches = append(next.Batches, record)
	next.BatchCount++
	next.DateProcessed = s.now()

	s.commit(next)

	return nil
}

// Get returns a copy of the FileState for fileID.
func (s *InMemoryProgressStore) Get(_ context.Context, fileID string) (*ingestion.FileState, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	state, exists := s.states[fileID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ingestion.ErrFileStateNotFound, fileID)
	}

	return cloneState(state), nil
}

// History returns every snapshot written for fileID, oldest first.
func (s *InMemoryProgressStore) History(fileID string) []ingestion.FileState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]ingestion.FileState, len(s.history[fileID]))
	copy(out, s.history[fileID])

	return out
}

// commit must be called with the write lock held.
func (s *InMemoryProgressStore) commit(state *ingestion.FileState) {
	s.states[state.FileID] = state
	s.history[state.FileID] = append(s.history[state.FileID], *cloneState(state))
}

func cloneState(state *ingestion.FileState) *ingestion.FileState {
	clone := *state
	clone.Batches = make([]ingestion.BatchRecord, len(state.Batches))
	copy(clone.Batches, state.Batches)

	return &clone
}
