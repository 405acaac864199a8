package taskforge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskforge"
)

func newFacadeEngine(t *testing.T) (*taskforge.Engine, *taskforge.MemoryBroker) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	b := taskforge.NewMemoryBroker()
	t.Cleanup(func() { b.Close() })

	eng, err := taskforge.New(context.Background(), taskforge.NewGormStore(db), b,
		taskforge.WithDispatchInterval(10*time.Millisecond))
	require.NoError(t, err)
	return eng, b
}

func TestFacade_SubmitAndSettle(t *testing.T) {
	ctx := context.Background()
	eng, _ := newFacadeEngine(t)

	w, err := eng.RegisterWorker(ctx, "", "worker-1", []string{"resize-image"})
	require.NoError(t, err)

	task, err := eng.SubmitTask(ctx, "resize-image", []byte(`{"width":640}`))
	require.NoError(t, err)
	assert.Equal(t, taskforge.StatusPending, task.Status)

	require.NoError(t, eng.ReportResult(ctx, task.ID, w.ID,
		taskforge.Outcome{Output: []byte(`{}`)}))

	status, err := eng.GetTaskStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskforge.StatusCompleted, status)
}

func TestFacade_Errors(t *testing.T) {
	ctx := context.Background()
	eng, _ := newFacadeEngine(t)

	_, err := eng.SubmitTask(ctx, "missing-kind", nil)
	assert.ErrorIs(t, err, taskforge.ErrUnknownKind)

	_, err = eng.GetTask(ctx, "nope")
	assert.ErrorIs(t, err, taskforge.ErrTaskNotFound)
}

func TestFacade_Schedules(t *testing.T) {
	from := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, from.Add(time.Hour), taskforge.Every(time.Hour).Next(from))
	assert.Equal(t, 9, taskforge.Daily(9, 30).Next(from).Hour())

	s, err := taskforge.Cron("0 9 * * *")
	require.NoError(t, err)
	assert.Equal(t, 9, s.Next(from).Hour())

	_, err = taskforge.Cron("bogus")
	assert.Error(t, err)
}

func TestFacade_Validation(t *testing.T) {
	assert.NoError(t, taskforge.ValidateKindName("resize-image"))
	assert.ErrorIs(t, taskforge.ValidateKindName("9 bad"), taskforge.ErrInvalidKindName)
	assert.ErrorIs(t, taskforge.ValidateWorkerName(""), taskforge.ErrInvalidWorkerName)
	assert.Equal(t, "clean", taskforge.SanitizeErrorPayload("cl\x00ean"))
}
