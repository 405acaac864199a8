package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/pkg/core"
	"taskforge/pkg/storage"
)

// seedAssignedTasks registers a worker and pins n queued tasks to it.
func seedAssignedTasks(t *testing.T, s *storage.GormStore, workerID string, n int) []string {
	t.Helper()
	ctx := context.Background()

	w := &core.Worker{ID: workerID, Name: workerID}
	require.NoError(t, s.UpsertWorker(ctx, w, []string{"resize-image"}))

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		task := &core.Task{Kind: "resize-image"}
		require.NoError(t, s.CreateTask(ctx, task))
		require.NoError(t, s.TransitionTask(ctx, task.ID,
			[]core.TaskStatus{core.StatusPending}, core.StatusQueued, &workerID))
		ids = append(ids, task.ID)
	}
	return ids
}

func TestSweep_RequeuesAllTasksOfDeadWorker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ids := seedAssignedTasks(t, s, "w1", 3)
	require.NoError(t, s.RecordHeartbeat(ctx, "w1", time.Now().UTC().Add(-time.Hour)))

	m := NewMonitor(s, time.Second, time.Minute, nil, nil)
	requeued, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, requeued)

	w, err := s.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, w.Active)

	for _, id := range ids {
		task, err := s.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.StatusPending, task.Status)
		assert.Nil(t, task.AssignedTo)
	}
}

func TestSweep_SparesLiveWorkers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAssignedTasks(t, s, "w1", 1)
	require.NoError(t, s.RecordHeartbeat(ctx, "w1", time.Now().UTC()))

	m := NewMonitor(s, time.Second, time.Minute, nil, nil)
	requeued, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)

	w, err := s.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, w.Active)
}

func TestSweep_OverlappingPassesRequeueOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAssignedTasks(t, s, "w1", 2)
	require.NoError(t, s.RecordHeartbeat(ctx, "w1", time.Now().UTC().Add(-time.Hour)))

	m := NewMonitor(s, time.Second, time.Minute, nil, nil)
	first, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first)

	// A second pass (restart, overlapping schedule) finds nothing to do:
	// the worker is already inactive and the tasks already pending.
	second, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestSweep_DoesNotTouchSettledTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ids := seedAssignedTasks(t, s, "w1", 1)
	require.NoError(t, s.RecordHeartbeat(ctx, "w1", time.Now().UTC().Add(-time.Hour)))

	// The task settles between the staleness scan and the requeue.
	res := &core.TaskResult{TaskID: ids[0], WorkerID: "w1", Output: []byte(`{}`)}
	require.NoError(t, s.SettleTask(ctx, res, core.StatusCompleted))

	m := NewMonitor(s, time.Second, time.Minute, nil, nil)
	requeued, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued, "settled task must not be requeued")

	task, err := s.GetTask(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, task.Status)
}

func TestSweep_EmitsEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAssignedTasks(t, s, "w1", 1)
	require.NoError(t, s.RecordHeartbeat(ctx, "w1", time.Now().UTC().Add(-time.Hour)))

	var deactivated, requeued int
	m := NewMonitor(s, time.Second, time.Minute, nil, func(e core.Event) {
		switch e.(type) {
		case *core.WorkerDeactivated:
			deactivated++
		case *core.TaskRequeued:
			requeued++
		}
	})

	_, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deactivated)
	assert.Equal(t, 1, requeued)
}

func TestMonitorStart_StopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	m := NewMonitor(s, 5*time.Millisecond, time.Minute, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := m.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
