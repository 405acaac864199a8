package core

import "time"

// Event is the interface for all engine lifecycle events.
type Event interface {
	eventMarker()
}

// TaskSubmitted is emitted when a task is accepted into the store.
type TaskSubmitted struct {
	Task      *Task
	Timestamp time.Time
}

func (*TaskSubmitted) eventMarker() {}

// TaskDispatched is emitted after a confirmed publish moved a task to queued.
type TaskDispatched struct {
	Task      *Task
	WorkerID  string
	Timestamp time.Time
}

func (*TaskDispatched) eventMarker() {}

// TaskRequeued is emitted when the monitor reverts an in-flight task to
// pending after its worker was declared dead.
type TaskRequeued struct {
	TaskID    string
	WorkerID  string
	Timestamp time.Time
}

func (*TaskRequeued) eventMarker() {}

// TaskSettled is emitted when a result is recorded and the task reaches a
// terminal state.
type TaskSettled struct {
	TaskID    string
	WorkerID  string
	Status    TaskStatus
	Timestamp time.Time
}

func (*TaskSettled) eventMarker() {}

// TaskCancelled is emitted on explicit cancellation.
type TaskCancelled struct {
	TaskID    string
	Timestamp time.Time
}

func (*TaskCancelled) eventMarker() {}

// WorkerRegistered is emitted on worker registration or re-registration.
type WorkerRegistered struct {
	Worker    *Worker
	Timestamp time.Time
}

func (*WorkerRegistered) eventMarker() {}

// WorkerDeactivated is emitted when the monitor declares a worker dead.
type WorkerDeactivated struct {
	WorkerID  string
	LastSeen  time.Time
	Timestamp time.Time
}

func (*WorkerDeactivated) eventMarker() {}
