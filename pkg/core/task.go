package core

import (
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"   // Created, not yet handed to the broker
	StatusQueued    TaskStatus = "queued"    // Published to the broker and pinned to a worker
	StatusRunning   TaskStatus = "running"   // Worker signalled start; informational only
	StatusCompleted TaskStatus = "completed" // Success result recorded
	StatusFailed    TaskStatus = "failed"    // Failure result recorded
	StatusCancelled TaskStatus = "cancelled" // Terminated before completion
)

// Terminal reports whether no further transitions are permitted from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validNext enumerates the permitted status transitions. Settling from
// pending is allowed so that a late result from a worker whose task was
// already requeued is accepted rather than discarded (first writer wins).
var validNext = map[TaskStatus]map[TaskStatus]bool{
	StatusPending: {StatusQueued: true, StatusCancelled: true, StatusCompleted: true, StatusFailed: true},
	StatusQueued:  {StatusRunning: true, StatusPending: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusRunning: {StatusPending: true, StatusCompleted: true, StatusFailed: true},
}

// CanTransition reports whether the status machine permits from -> to.
func CanTransition(from, to TaskStatus) bool {
	return validNext[from][to]
}

// statusOrder fixes the iteration order over statuses so derived sets are
// deterministic.
var statusOrder = []TaskStatus{
	StatusPending, StatusQueued, StatusRunning,
	StatusCompleted, StatusFailed, StatusCancelled,
}

// TransitionSources returns every status the machine permits to move to
// `to`. Store callers derive their compare-and-set `from` lists from this so
// the state machine has a single definition.
func TransitionSources(to TaskStatus) []TaskStatus {
	var from []TaskStatus
	for _, s := range statusOrder {
		if validNext[s][to] {
			from = append(from, s)
		}
	}
	return from
}

// TaskKind is a named category of work. Workers declare the kinds they can
// execute and tasks carry exactly one kind. Kinds are never deleted while
// referenced; they are soft-deactivated instead.
type TaskKind struct {
	Name      string    `gorm:"primaryKey;size:255"`
	Active    bool      `gorm:"default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Task represents one unit of submitted work.
//
// Invariant: AssignedTo is non-nil iff Status is queued or running. The
// store's conditional transitions maintain this; nothing else writes status.
type Task struct {
	ID         string     `gorm:"primaryKey;size:36"`
	Kind       string     `gorm:"index;size:255;not null"`
	Input      []byte     `gorm:"type:bytes"`
	Status     TaskStatus `gorm:"index;size:20;default:'pending'"`
	AssignedTo *string    `gorm:"index;size:36"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime"`
}

// TaskResult holds the outcome of a settled task, one-to-one with the task.
// Exactly one of Output and Error is populated. The row is written once by
// the ingestor and never updated.
type TaskResult struct {
	TaskID    string    `gorm:"primaryKey;size:36"`
	WorkerID  string    `gorm:"index;size:36;not null"`
	Output    []byte    `gorm:"type:bytes"`
	Error     []byte    `gorm:"type:bytes"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Outcome is a reported task result: a success payload or a failure payload,
// never both and never neither.
type Outcome struct {
	Output []byte
	Error  []byte
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Error != nil
}

// Status returns the terminal status the outcome settles a task into.
func (o Outcome) Status() TaskStatus {
	if o.Failed() {
		return StatusFailed
	}
	return StatusCompleted
}

// Validate rejects outcomes that populate both payloads or neither.
func (o Outcome) Validate() error {
	if (o.Output == nil) == (o.Error == nil) {
		return ErrInvalidOutcome
	}
	return nil
}
