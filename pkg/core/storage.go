package core

import (
	"context"
	"time"
)

// Store defines the persistence layer for the coordinator. It is the single
// source of truth and the arbiter of all races: every conditional update is
// compare-and-set on the current status, and every multi-row effect of one
// logical operation happens inside a single transaction.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Task kinds
	CreateKind(ctx context.Context, name string) (*TaskKind, error)
	GetKind(ctx context.Context, name string) (*TaskKind, error)
	SetKindActive(ctx context.Context, name string, active bool) error

	// Task lifecycle
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	// TransitionTask performs a conditional status update: the row moves to
	// `to` only if its current status is one of `from`, otherwise
	// ErrStaleTransition. assignTo sets assigned_to; nil clears it.
	TransitionTask(ctx context.Context, id string, from []TaskStatus, to TaskStatus, assignTo *string) error
	PendingTasks(ctx context.Context, limit int) ([]*Task, error)
	TasksAssignedTo(ctx context.Context, workerID string) ([]*Task, error)

	// Results. SettleTask inserts the result row and moves the task to the
	// given terminal status in one transaction; any duplicate or race
	// surfaces as ErrTaskSettled.
	SettleTask(ctx context.Context, res *TaskResult, status TaskStatus) error
	GetResult(ctx context.Context, taskID string) (*TaskResult, error)

	// Worker registry
	UpsertWorker(ctx context.Context, w *Worker, kinds []string) error
	GetWorker(ctx context.Context, id string) (*Worker, error)
	SetWorkerActive(ctx context.Context, id string, active bool) error
	MarkAssigned(ctx context.Context, workerID string, at time.Time) error
	// CapableWorkers returns active workers declaring the kind, ordered by
	// last assignment time, oldest first.
	CapableWorkers(ctx context.Context, kind string) ([]*Worker, error)

	// Heartbeats
	RecordHeartbeat(ctx context.Context, workerID string, at time.Time) error
	// StaleWorkers returns active workers whose most recent heartbeat is
	// older than cutoff (or who never heartbeat at all).
	StaleWorkers(ctx context.Context, cutoff time.Time) ([]*Worker, error)
	LastHeartbeat(ctx context.Context, workerID string) (time.Time, error)
}
