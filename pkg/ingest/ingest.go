// Package ingest records task results. Results are idempotent: the first
// writer settles the task, later reports for the same task are acknowledged
// and discarded.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskforge/pkg/core"
	"taskforge/pkg/security"
)

// Ingestor accepts result reports from workers and settles tasks.
type Ingestor struct {
	store  core.Store
	logger *slog.Logger
	emit   func(core.Event)
}

// NewIngestor creates an ingestor. logger and emit may be nil.
func NewIngestor(store core.Store, logger *slog.Logger, emit func(core.Event)) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(core.Event) {}
	}
	return &Ingestor{store: store, logger: logger, emit: emit}
}

// Report records the outcome of a task. The call is idempotent per task:
// exactly one result row is ever written, and a report against an already
// settled task returns nil so worker retries converge. Reports from a worker
// other than the task's assignee are accepted; the assignment may have moved
// after the worker picked the message up, and the result is still real work.
func (in *Ingestor) Report(ctx context.Context, taskID, workerID string, outcome core.Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	if len(outcome.Output) > security.MaxResultSize {
		return core.ErrInputTooLarge
	}

	task, err := in.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return err
		}
		return core.Transient("task lookup", err)
	}

	if task.Status.Terminal() {
		in.logger.Debug("duplicate result for settled task",
			"task_id", taskID, "worker_id", workerID, "status", task.Status)
		return nil
	}

	if task.AssignedTo != nil && *task.AssignedTo != workerID {
		in.logger.Warn("result from non-assigned worker",
			"task_id", taskID, "worker_id", workerID, "assigned_to", *task.AssignedTo)
	}

	res := &core.TaskResult{
		TaskID:   taskID,
		WorkerID: workerID,
		Output:   outcome.Output,
	}
	if outcome.Failed() {
		res.Error = []byte(security.SanitizeErrorPayload(string(outcome.Error)))
	}

	status := outcome.Status()
	err = in.store.SettleTask(ctx, res, status)
	switch {
	case errors.Is(err, core.ErrTaskSettled):
		// Lost the settle race to another report. First writer wins.
		in.logger.Debug("settle lost race", "task_id", taskID, "worker_id", workerID)
		return nil
	case errors.Is(err, core.ErrTaskNotFound):
		return err
	case err != nil:
		return core.Transient("settle task", err)
	}

	in.logger.Info("task settled",
		"task_id", taskID, "worker_id", workerID, "status", status)
	in.emit(&core.TaskSettled{
		TaskID:    taskID,
		WorkerID:  workerID,
		Status:    status,
		Timestamp: time.Now(),
	})
	return nil
}
