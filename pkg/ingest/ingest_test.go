package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskforge/pkg/core"
	"taskforge/pkg/storage"
)

func newTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	s := storage.NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// seedQueuedTask creates a task already dispatched to the given worker.
func seedQueuedTask(t *testing.T, s *storage.GormStore, workerID string) *core.Task {
	t.Helper()
	ctx := context.Background()

	w := &core.Worker{ID: workerID, Name: workerID}
	require.NoError(t, s.UpsertWorker(ctx, w, []string{"resize-image"}))

	task := &core.Task{Kind: "resize-image", Input: []byte(`{}`)}
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.TransitionTask(ctx, task.ID,
		[]core.TaskStatus{core.StatusPending}, core.StatusQueued, &workerID))
	return task
}

func TestReport_SuccessSettlesTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	in := NewIngestor(s, nil, nil)
	err := in.Report(ctx, task.ID, "w1", core.Outcome{Output: []byte(`{"ok":true}`)})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Nil(t, got.AssignedTo)

	res, err := s.GetResult(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "w1", res.WorkerID)
	assert.JSONEq(t, `{"ok":true}`, string(res.Output))
	assert.Nil(t, res.Error)
}

func TestReport_FailureSettlesTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	in := NewIngestor(s, nil, nil)
	err := in.Report(ctx, task.ID, "w1", core.Outcome{Error: []byte("out of memory")})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)

	res, err := s.GetResult(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "out of memory", string(res.Error))
}

func TestReport_InvalidOutcomeRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	in := NewIngestor(s, nil, nil)
	assert.ErrorIs(t, in.Report(ctx, task.ID, "w1", core.Outcome{}), core.ErrInvalidOutcome)
	assert.ErrorIs(t, in.Report(ctx, task.ID, "w1",
		core.Outcome{Output: []byte(`{}`), Error: []byte("boom")}), core.ErrInvalidOutcome)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, got.Status, "rejected report must not touch the task")
}

func TestReport_UnknownTask(t *testing.T) {
	s := newTestStore(t)
	in := NewIngestor(s, nil, nil)
	err := in.Report(context.Background(), "no-such-task", "w1", core.Outcome{Output: []byte(`{}`)})
	assert.ErrorIs(t, err, core.ErrTaskNotFound)
}

func TestReport_DuplicateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	in := NewIngestor(s, nil, nil)
	require.NoError(t, in.Report(ctx, task.ID, "w1", core.Outcome{Output: []byte(`{"n":1}`)}))

	// A retry of the same report, and a conflicting report from another
	// worker, both succeed without changing anything.
	require.NoError(t, in.Report(ctx, task.ID, "w1", core.Outcome{Output: []byte(`{"n":2}`)}))
	require.NoError(t, in.Report(ctx, task.ID, "w2", core.Outcome{Error: []byte("late failure")}))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)

	res, err := s.GetResult(ctx, task.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(res.Output), "first writer wins")
	assert.Equal(t, "w1", res.WorkerID)
}

func TestReport_AcceptedFromNonAssignedWorker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	// The monitor requeued the task; the original worker finishes anyway.
	require.NoError(t, s.TransitionTask(ctx, task.ID,
		[]core.TaskStatus{core.StatusQueued}, core.StatusPending, nil))

	in := NewIngestor(s, nil, nil)
	require.NoError(t, in.Report(ctx, task.ID, "w1", core.Outcome{Output: []byte(`{}`)}))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
}

func TestReport_SanitizesErrorPayload(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	in := NewIngestor(s, nil, nil)
	raw := "bad\x00thing\x01happened\nsee logs"
	require.NoError(t, in.Report(ctx, task.ID, "w1", core.Outcome{Error: []byte(raw)}))

	res, err := s.GetResult(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "badthinghappened\nsee logs", string(res.Error))
}

func TestReport_TruncatesOversizedErrorPayload(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	in := NewIngestor(s, nil, nil)
	huge := strings.Repeat("x", 10000)
	require.NoError(t, in.Report(ctx, task.ID, "w1", core.Outcome{Error: []byte(huge)}))

	res, err := s.GetResult(ctx, task.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Error), 4096)
	assert.True(t, strings.HasSuffix(string(res.Error), "..."))
}

func TestReport_EmitsSettledEvent(t *testing.T) {
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	var events []core.Event
	in := NewIngestor(s, nil, func(e core.Event) { events = append(events, e) })
	require.NoError(t, in.Report(context.Background(), task.ID, "w1",
		core.Outcome{Error: []byte("boom")}))

	require.Len(t, events, 1)
	settled, ok := events[0].(*core.TaskSettled)
	require.True(t, ok)
	assert.Equal(t, task.ID, settled.TaskID)
	assert.Equal(t, "w1", settled.WorkerID)
	assert.Equal(t, core.StatusFailed, settled.Status)
}

func TestReport_ConcurrentReportsSettleOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task := seedQueuedTask(t, s, "w1")

	var settled int
	var mu sync.Mutex
	in := NewIngestor(s, nil, func(e core.Event) {
		if _, ok := e.(*core.TaskSettled); ok {
			mu.Lock()
			settled++
			mu.Unlock()
		}
	})

	// sqlite serializes the writes; both reports return nil, one settles.
	var wg sync.WaitGroup
	for _, worker := range []string{"w1", "w2"} {
		wg.Add(1)
		go func(w string) {
			defer wg.Done()
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				err := in.Report(ctx, task.ID, w, core.Outcome{Output: []byte(`{"by":"` + w + `"}`)})
				if err == nil {
					return
				}
				if !core.IsTransient(err) {
					t.Errorf("unexpected report error: %v", err)
					return
				}
			}
		}(worker)
	}
	wg.Wait()

	assert.Equal(t, 1, settled, "exactly one report settles the task")

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)

	res, err := s.GetResult(ctx, task.ID)
	require.NoError(t, err)
	assert.Contains(t, []string{"w1", "w2"}, res.WorkerID)
}
