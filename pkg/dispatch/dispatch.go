package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskforge/pkg/core"
	"taskforge/pkg/internal/backoff"
)

// DefaultBatchSize bounds how many pending tasks one pass picks up.
const DefaultBatchSize = 100

// Dispatcher routes pending tasks to their kind's queue. It is the only
// component that produces broker messages. A task becomes queued only after
// the broker confirmed the publish; every failure mode leaves it pending
// for the next pass.
type Dispatcher struct {
	store     core.Store
	broker    core.Broker
	logger    *slog.Logger
	emit      func(core.Event)
	interval  time.Duration
	batchSize int
	retry     backoff.Config
}

// NewDispatcher creates a dispatcher that scans for pending tasks every
// interval. logger and emit may be nil.
func NewDispatcher(store core.Store, brk core.Broker, interval time.Duration, logger *slog.Logger, emit func(core.Event)) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(core.Event) {}
	}
	return &Dispatcher{
		store:     store,
		broker:    brk,
		logger:    logger,
		emit:      emit,
		interval:  interval,
		batchSize: DefaultBatchSize,
		retry:     backoff.Default(),
	}
}

// SetBatchSize bounds how many pending tasks one pass picks up. Values
// below one are ignored.
func (d *Dispatcher) SetBatchSize(n int) {
	if n > 0 {
		d.batchSize = n
	}
}

// Start runs the dispatch loop. Blocks until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := backoff.Retry(ctx, d.retry, func() error {
				_, passErr := d.Pass(ctx)
				return passErr
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				d.logger.Error("dispatch pass failed after retries", "error", err)
			}
		}
	}
}

// Pass performs one dispatch pass over the pending backlog. Returns the
// number of tasks moved to queued. Tasks without a capable worker or whose
// publish failed are skipped, not failed; they stay pending and are retried
// on the next pass.
func (d *Dispatcher) Pass(ctx context.Context) (int, error) {
	tasks, err := d.store.PendingTasks(ctx, d.batchSize)
	if err != nil {
		return 0, core.Transient("pending scan", err)
	}

	dispatched := 0
	for _, task := range tasks {
		ok, err := d.dispatchOne(ctx, task)
		if err != nil {
			return dispatched, err
		}
		if ok {
			dispatched++
		}
	}
	return dispatched, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, task *core.Task) (bool, error) {
	workers, err := d.store.CapableWorkers(ctx, task.Kind)
	if err != nil {
		return false, core.Transient("capable worker scan", err)
	}

	worker, err := PickWorker(workers, task.Kind)
	if errors.Is(err, core.ErrNoCapableWorker) {
		// A backlog, not an error: the task waits for a worker to show up.
		d.logger.Debug("no capable worker", "task_id", task.ID, "kind", task.Kind)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	payload, err := core.EncodeTaskMessage(&core.TaskMessage{
		TaskID:     task.ID,
		Kind:       task.Kind,
		WorkerID:   worker.ID,
		Input:      task.Input,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		// One bad task must not block the rest of the backlog.
		d.logger.Error("task message encode failed, task stays pending", "task_id", task.ID, "error", err)
		return false, nil
	}

	if err := d.broker.Publish(ctx, task.Kind, payload); err != nil {
		// Never mark queued without a confirmed publish.
		d.logger.Warn("publish failed, task stays pending", "task_id", task.ID, "error", err)
		return false, nil
	}

	err = d.store.TransitionTask(ctx, task.ID,
		core.TransitionSources(core.StatusQueued), core.StatusQueued, &worker.ID)
	switch {
	case errors.Is(err, core.ErrStaleTransition):
		// The task was cancelled or settled while we were publishing. The
		// stray broker message is tolerated by at-least-once consumers.
		d.logger.Debug("dispatch lost race", "task_id", task.ID)
		return false, nil
	case errors.Is(err, core.ErrTaskNotFound):
		return false, nil
	case err != nil:
		return false, core.Transient("mark queued", err)
	}

	if err := d.store.MarkAssigned(ctx, worker.ID, time.Now().UTC()); err != nil &&
		!errors.Is(err, core.ErrUnknownWorker) {
		return true, core.Transient("mark assigned", err)
	}

	d.logger.Info("task dispatched", "task_id", task.ID, "kind", task.Kind, "worker_id", worker.ID)
	d.emit(&core.TaskDispatched{Task: task, WorkerID: worker.ID, Timestamp: time.Now()})
	return true, nil
}
