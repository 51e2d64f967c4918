package ingestion_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
	"github.com/sheetpipe-io/sheetpipe/internal/storage"
)

var (
	errInjected = errors.New("injected failure")

	// errStatementCanceled mimics the server-side error lib/pq returns when a
	// statement's context ends, which does not wrap ctx.Err().
	errStatementCanceled = errors.New("pq: canceling statement due to user request")
)

// fakeWriter records batch sizes and can fail or block on a chosen call.
type fakeWriter struct {
	mutex      sync.Mutex
	key        string
	allowed    []string
	batches    []int
	calls      int
	failOn     int  // 1-based call that fails; 0 never
	block      bool // wait for ctx on every call
	onCommit   func(call int)
	prepareErr error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{key: "email", allowed: []string{"email", "first_name", "age"}}
}

func (w *fakeWriter) Prepare(_ context.Context, columns []string) (*ingestion.UpsertPlan, error) {
	if w.prepareErr != nil {
		return nil, w.prepareErr
	}

	plan := &ingestion.UpsertPlan{Table: "users", KeyColumn: w.key}

	for _, col := range columns {
		if slices.Contains(w.allowed, col) {
			plan.Columns = append(plan.Columns, ingestion.Column{Name: col, Type: "text"})
		} else {
			plan.Ignored = append(plan.Ignored, col)
		}
	}

	if !slices.Contains(columns, w.key) {
		return nil, fmt.Errorf("%w: %q", ingestion.ErrKeyColumnMissing, w.key)
	}

	return plan, nil
}

func (w *fakeWriter) UpsertBatch(ctx context.Context, _ *ingestion.UpsertPlan, rows []ingestion.Row) (int64, error) {
	w.mutex.Lock()
	w.calls++
	call := w.calls
	block := w.block
	fail := w.failOn == call
	w.mutex.Unlock()

	if block {
		<-ctx.Done()

		return 0, errStatementCanceled
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if fail {
		return 0, errInjected
	}

	w.mutex.Lock()
	w.batches = append(w.batches, len(rows))
	hook := w.onCommit
	w.mutex.Unlock()

	if hook != nil {
		hook(call)
	}

	return int64(len(rows)), nil
}

func (w *fakeWriter) Batches() []int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return slices.Clone(w.batches)
}

func (w *fakeWriter) Calls() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.calls
}

// recordingStore remembers inserted file ids and can simulate an outage on Get.
type recordingStore struct {
	*storage.InMemoryProgressStore

	mutex    sync.Mutex
	inserted []string
	getErr   error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{InMemoryProgressStore: storage.NewInMemoryProgressStore()}
}

func (s *recordingStore) Insert(ctx context.Context, state *ingestion.FileState) error {
	s.mutex.Lock()
	s.inserted = append(s.inserted, state.FileID)
	s.mutex.Unlock()

	return s.InMemoryProgressStore.Insert(ctx, state)
}

func (s *recordingStore) Get(ctx context.Context, fileID string) (*ingestion.FileState, error) {
	s.mutex.Lock()
	err := s.getErr
	s.mutex.Unlock()

	if err != nil {
		return nil, err
	}

	return s.InMemoryProgressStore.Get(ctx, fileID)
}

func (s *recordingStore) Inserted() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return slices.Clone(s.inserted)
}

// csvRows builds a CSV document with n rows keyed by prefix.
func csvRows(prefix string, n int) string {
	var b strings.Builder

	b.WriteString("email,first_name,age\n")

	for i := range n {
		fmt.Fprintf(&b, "%s%d@example.com,Name%d,%d\n", prefix, i, i, 20+i%50)
	}

	return b.String()
}

// waitForTerminal polls until fileID reaches Processed or Error.
func waitForTerminal(t *testing.T, store ingestion.ProgressStore, fileID string) *ingestion.FileState {
	t.Helper()

	var state *ingestion.FileState

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), fileID)
		if err != nil {
			return false
		}

		state = got

		return got.Status.IsTerminal()
	}, 10*time.Second, 5*time.Millisecond, "file %s never reached a terminal state", fileID)

	return state
}
