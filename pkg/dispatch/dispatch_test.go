package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskforge/pkg/broker"
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

func registerWorker(t *testing.T, s *storage.GormStore, id string, kinds ...string) {
	t.Helper()
	w := &core.Worker{ID: id, Name: id}
	require.NoError(t, s.UpsertWorker(context.Background(), w, kinds))
}

func submitTask(t *testing.T, s *storage.GormStore, kind string) *core.Task {
	t.Helper()
	task := &core.Task{Kind: kind, Input: []byte(`{"width":640}`)}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func TestPass_DispatchesToCapableWorker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := broker.NewMemoryBroker()
	registerWorker(t, s, "w1", "resize-image")
	task := submitTask(t, s, "resize-image")

	d := NewDispatcher(s, b, time.Second, nil, nil)
	n, err := d.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, got.Status)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "w1", *got.AssignedTo)

	payload, err := b.Consume(ctx, "resize-image", time.Second)
	require.NoError(t, err)
	msg, err := core.DecodeTaskMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, task.ID, msg.TaskID)
	assert.Equal(t, "w1", msg.WorkerID)
	assert.JSONEq(t, `{"width":640}`, string(msg.Input))
}

func TestPass_NoCapableWorkerLeavesTaskPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := broker.NewMemoryBroker()
	_, err := s.CreateKind(ctx, "resize-image")
	require.NoError(t, err)
	task := submitTask(t, s, "resize-image")

	d := NewDispatcher(s, b, time.Second, nil, nil)
	n, err := d.Pass(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Nil(t, got.AssignedTo)
	assert.Zero(t, b.Len("resize-image"))

	// A worker shows up; the next pass drains the backlog.
	registerWorker(t, s, "w1", "resize-image")
	n, err = d.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPass_PublishFailureLeavesTaskPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := broker.NewMemoryBroker()
	registerWorker(t, s, "w1", "resize-image")
	task := submitTask(t, s, "resize-image")

	b.FailPublish(errors.New("broker unavailable"))
	d := NewDispatcher(s, b, time.Second, nil, nil)
	n, err := d.Pass(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status, "never queued without a confirmed publish")
	assert.Nil(t, got.AssignedTo)

	// Broker recovers; the task goes out on the next pass.
	b.FailPublish(nil)
	n, err = d.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPass_OpaqueInputDoesNotBlockBacklog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := broker.NewMemoryBroker()
	registerWorker(t, s, "w1", "resize-image")

	// Input is opaque bytes, not necessarily JSON. An older task with a
	// non-JSON payload must still dispatch and must not stall younger tasks.
	opaque := &core.Task{Kind: "resize-image", Input: []byte("not json")}
	require.NoError(t, s.CreateTask(ctx, opaque))
	younger := submitTask(t, s, "resize-image")

	d := NewDispatcher(s, b, time.Second, nil, nil)
	n, err := d.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{opaque.ID, younger.ID} {
		got, err := s.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.StatusQueued, got.Status)
	}

	inputs := make(map[string][]byte)
	for i := 0; i < 2; i++ {
		payload, err := b.Consume(ctx, "resize-image", time.Second)
		require.NoError(t, err)
		msg, err := core.DecodeTaskMessage(payload)
		require.NoError(t, err)
		inputs[msg.TaskID] = msg.Input
	}
	assert.Equal(t, []byte("not json"), inputs[opaque.ID], "payload bytes survive the wire unchanged")
}

func TestPass_SpreadsLoadAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := broker.NewMemoryBroker()
	registerWorker(t, s, "w1", "resize-image")
	registerWorker(t, s, "w2", "resize-image")

	first := submitTask(t, s, "resize-image")
	second := submitTask(t, s, "resize-image")

	d := NewDispatcher(s, b, time.Second, nil, nil)
	n, err := d.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, err := s.GetTask(ctx, first.ID)
	require.NoError(t, err)
	bTask, err := s.GetTask(ctx, second.ID)
	require.NoError(t, err)

	require.NotNil(t, a.AssignedTo)
	require.NotNil(t, bTask.AssignedTo)
	assert.NotEqual(t, *a.AssignedTo, *bTask.AssignedTo,
		"least-recently-assigned selection alternates workers")
}

func TestPass_SkipsCancelledTaskRace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	registerWorker(t, s, "w1", "resize-image")
	task := submitTask(t, s, "resize-image")

	// Cancelled after the pending scan would have seen it.
	require.NoError(t, s.TransitionTask(ctx, task.ID,
		[]core.TaskStatus{core.StatusPending}, core.StatusCancelled, nil))

	d := NewDispatcher(s, broker.NewMemoryBroker(), time.Second, nil, nil)
	n, err := d.Pass(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, got.Status)
}

func TestPass_EmitsDispatchedEvent(t *testing.T) {
	s := newTestStore(t)
	b := broker.NewMemoryBroker()
	registerWorker(t, s, "w1", "resize-image")
	task := submitTask(t, s, "resize-image")

	var events []core.Event
	d := NewDispatcher(s, b, time.Second, nil, func(e core.Event) { events = append(events, e) })
	_, err := d.Pass(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 1)
	dispatched, ok := events[0].(*core.TaskDispatched)
	require.True(t, ok)
	assert.Equal(t, task.ID, dispatched.Task.ID)
	assert.Equal(t, "w1", dispatched.WorkerID)
}

func TestStart_StopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	d := NewDispatcher(s, broker.NewMemoryBroker(), 5*time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := d.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
