package core

import (
	"time"
)

// Worker is an executor process registered with the coordinator. The ID is
// supplied by the worker and stable across restarts of the same logical
// worker. Workers are never hard-deleted while referenced by tasks; the
// heartbeat monitor flips Active off when they go silent.
type Worker struct {
	ID             string     `gorm:"primaryKey;size:36"`
	Name           string     `gorm:"size:255;not null"`
	Active         bool       `gorm:"index;default:true"`
	RegisteredAt   time.Time  `gorm:"autoCreateTime"`
	LastAssignedAt *time.Time `gorm:"index"`

	// Capabilities is the set of kind names this worker accepts, loaded
	// from the worker_capabilities join table. Append-only: registration
	// may grow the set but never shrinks it.
	Capabilities []string `gorm:"-"`
}

// CanExecute reports whether the worker declares the given kind.
func (w *Worker) CanExecute(kind string) bool {
	for _, c := range w.Capabilities {
		if c == kind {
			return true
		}
	}
	return false
}

// WorkerCapability is one row of the worker/kind many-to-many relation.
type WorkerCapability struct {
	WorkerID  string    `gorm:"primaryKey;size:36"`
	Kind      string    `gorm:"primaryKey;size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Heartbeat is an append-only liveness event. Only the most recent row per
// worker matters to the monitor; history is retained for audit.
type Heartbeat struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	WorkerID string    `gorm:"index;size:36;not null"`
	At       time.Time `gorm:"index;not null"`
}
