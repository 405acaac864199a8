package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskforge/pkg/core"
	"taskforge/pkg/internal/backoff"
)

// Monitor is the background loop that declares silent workers dead and
// requeues their in-flight tasks. It is safe to restart after a crash and
// safe to run in overlapping passes: every requeue is a conditional
// transition, so a task is reverted to pending exactly once.
type Monitor struct {
	store     core.Store
	logger    *slog.Logger
	emit      func(core.Event)
	interval  time.Duration
	threshold time.Duration
	retry     backoff.Config
}

// NewMonitor creates a heartbeat monitor that scans every interval for
// active workers whose last heartbeat is older than threshold.
func NewMonitor(store core.Store, interval, threshold time.Duration, logger *slog.Logger, emit func(core.Event)) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(core.Event) {}
	}
	return &Monitor{
		store:     store,
		logger:    logger,
		emit:      emit,
		interval:  interval,
		threshold: threshold,
		retry:     backoff.Default(),
	}
}

// Start runs the scan loop. Blocks until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := backoff.Retry(ctx, m.retry, func() error {
				_, sweepErr := m.Sweep(ctx)
				return sweepErr
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				m.logger.Error("liveness sweep failed after retries", "error", err)
			}
		}
	}
}

// Sweep performs one liveness pass: deactivate every stale worker and
// requeue its queued/running tasks. Returns the number of tasks requeued.
// Exported so one-shot recovery after a coordinator restart can reuse it.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.threshold)
	stale, err := m.store.StaleWorkers(ctx, cutoff)
	if err != nil {
		return 0, core.Transient("staleness scan", err)
	}

	requeued := 0
	for _, w := range stale {
		if err := m.store.SetWorkerActive(ctx, w.ID, false); err != nil {
			if errors.Is(err, core.ErrUnknownWorker) {
				continue
			}
			return requeued, core.Transient("deactivate worker", err)
		}
		m.logger.Warn("worker declared dead", "worker_id", w.ID, "threshold", m.threshold)
		m.emit(&core.WorkerDeactivated{WorkerID: w.ID, LastSeen: cutoff, Timestamp: time.Now()})

		n, err := m.requeueTasks(ctx, w.ID)
		requeued += n
		if err != nil {
			return requeued, err
		}
	}
	return requeued, nil
}

func (m *Monitor) requeueTasks(ctx context.Context, workerID string) (int, error) {
	tasks, err := m.store.TasksAssignedTo(ctx, workerID)
	if err != nil {
		return 0, core.Transient("assigned task scan", err)
	}

	requeued := 0
	for _, task := range tasks {
		err := m.store.TransitionTask(ctx, task.ID,
			core.TransitionSources(core.StatusPending), core.StatusPending, nil)
		switch {
		case errors.Is(err, core.ErrStaleTransition):
			// Lost the race: the task settled, was cancelled, or another
			// monitor pass already requeued it. Nothing to undo.
			m.logger.Debug("requeue lost race", "task_id", task.ID)
			continue
		case errors.Is(err, core.ErrTaskNotFound):
			continue
		case err != nil:
			return requeued, core.Transient("requeue", err)
		}

		requeued++
		m.logger.Info("task requeued", "task_id", task.ID, "worker_id", workerID)
		m.emit(&core.TaskRequeued{TaskID: task.ID, WorkerID: workerID, Timestamp: time.Now()})
	}
	return requeued, nil
}
