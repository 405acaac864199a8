package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskforge/pkg/core"
)

// GormStore implements core.Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying GORM handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.TaskKind{},
		&core.Worker{},
		&core.WorkerCapability{},
		&core.Heartbeat{},
		&core.Task{},
		&core.TaskResult{},
	)
}

// CreateKind registers a task kind, returning the existing row if the name
// is already taken.
func (s *GormStore) CreateKind(ctx context.Context, name string) (*core.TaskKind, error) {
	var kind core.TaskKind
	err := s.db.WithContext(ctx).
		Where(core.TaskKind{Name: name}).
		Attrs(core.TaskKind{Active: true}).
		FirstOrCreate(&kind).Error
	if err != nil {
		return nil, err
	}
	return &kind, nil
}

// GetKind retrieves a kind by name.
func (s *GormStore) GetKind(ctx context.Context, name string) (*core.TaskKind, error) {
	var kind core.TaskKind
	err := s.db.WithContext(ctx).First(&kind, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrUnknownKind
	}
	if err != nil {
		return nil, err
	}
	return &kind, nil
}

// SetKindActive soft-(de)activates a kind. Kinds are never deleted because
// tasks and capabilities reference them.
func (s *GormStore) SetKindActive(ctx context.Context, name string, active bool) error {
	result := s.db.WithContext(ctx).
		Model(&core.TaskKind{}).
		Where("name = ?", name).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrUnknownKind
	}
	return nil
}

// CreateTask inserts a new task. The kind must exist and be active; the
// existence check and the insert share one transaction.
func (s *GormStore) CreateTask(ctx context.Context, task *core.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = core.StatusPending
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var kind core.TaskKind
		if err := tx.First(&kind, "name = ?", task.Kind).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrUnknownKind
			}
			return err
		}
		if !kind.Active {
			return core.ErrKindInactive
		}
		return tx.Create(task).Error
	})
}

// GetTask retrieves a task by ID.
func (s *GormStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var task core.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// TransitionTask performs a compare-and-set status update. The row moves to
// `to` only if its current status is one of `from`; a mismatch returns
// ErrStaleTransition and leaves the row untouched.
func (s *GormStore) TransitionTask(ctx context.Context, id string, from []core.TaskStatus, to core.TaskStatus, assignTo *string) error {
	updates := map[string]any{
		"status":      to,
		"assigned_to": nil,
	}
	if assignTo != nil {
		updates["assigned_to"] = *assignTo
	}

	result := s.db.WithContext(ctx).
		Model(&core.Task{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&core.Task{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return core.ErrTaskNotFound
		}
		return core.ErrStaleTransition
	}
	return nil
}

// PendingTasks returns tasks awaiting dispatch, oldest first.
func (s *GormStore) PendingTasks(ctx context.Context, limit int) ([]*core.Task, error) {
	var tasks []*core.Task
	err := s.db.WithContext(ctx).
		Where("status = ?", core.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// TasksAssignedTo returns the in-flight tasks pinned to a worker.
func (s *GormStore) TasksAssignedTo(ctx context.Context, workerID string) ([]*core.Task, error) {
	var tasks []*core.Task
	err := s.db.WithContext(ctx).
		Where("assigned_to = ? AND status IN ?", workerID,
			[]core.TaskStatus{core.StatusQueued, core.StatusRunning}).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// SettleTask inserts the result row and moves the task to the given terminal
// status in one transaction. The result's task_id primary key plus the
// status compare-and-set turn a racing duplicate settle into ErrTaskSettled:
// the loser's insert is rolled back with its transaction, so at most one
// result row ever exists per task.
func (s *GormStore) SettleTask(ctx context.Context, res *core.TaskResult, status core.TaskStatus) error {
	if status != core.StatusCompleted && status != core.StatusFailed {
		return core.ErrStaleTransition
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task core.Task
		if err := tx.First(&task, "id = ?", res.TaskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrTaskNotFound
			}
			return err
		}
		if task.Status.Terminal() {
			return core.ErrTaskSettled
		}

		var existing int64
		if err := tx.Model(&core.TaskResult{}).Where("task_id = ?", res.TaskID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return core.ErrTaskSettled
		}
		if err := tx.Create(res).Error; err != nil {
			return err
		}

		// Terminal states clear the assignment: assigned_to is non-null
		// only while a task is queued or running.
		result := tx.Model(&core.Task{}).
			Where("id = ? AND status IN ?", res.TaskID, core.TransitionSources(status)).
			Updates(map[string]any{"status": status, "assigned_to": nil})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrTaskSettled
		}
		return nil
	})
}

// GetResult retrieves the result row for a settled task.
func (s *GormStore) GetResult(ctx context.Context, taskID string) (*core.TaskResult, error) {
	var res core.TaskResult
	err := s.db.WithContext(ctx).First(&res, "task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// UpsertWorker registers a worker or refreshes an existing registration.
// Re-registration updates the name, reactivates the worker, and grows the
// capability set; capabilities are append-only. Unknown kinds referenced by
// a capability are created on first use.
func (s *GormStore) UpsertWorker(ctx context.Context, w *core.Worker, kinds []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing core.Worker
		err := tx.First(&existing, "id = ?", w.ID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			w.Active = true
			if err := tx.Create(w).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&core.Worker{}).
				Where("id = ?", w.ID).
				Updates(map[string]any{"name": w.Name, "active": true}).Error; err != nil {
				return err
			}
			w.RegisteredAt = existing.RegisteredAt
			w.LastAssignedAt = existing.LastAssignedAt
			w.Active = true
		}

		for _, kind := range kinds {
			var kr core.TaskKind
			if err := tx.Where(core.TaskKind{Name: kind}).
				Attrs(core.TaskKind{Active: true}).
				FirstOrCreate(&kr).Error; err != nil {
				return err
			}
			var n int64
			if err := tx.Model(&core.WorkerCapability{}).
				Where("worker_id = ? AND kind = ?", w.ID, kind).
				Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				if err := tx.Create(&core.WorkerCapability{WorkerID: w.ID, Kind: kind}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	caps, err := s.capabilities(ctx, w.ID)
	if err != nil {
		return err
	}
	w.Capabilities = caps
	return nil
}

// GetWorker retrieves a worker with its capability set.
func (s *GormStore) GetWorker(ctx context.Context, id string) (*core.Worker, error) {
	var w core.Worker
	err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrUnknownWorker
	}
	if err != nil {
		return nil, err
	}
	caps, err := s.capabilities(ctx, id)
	if err != nil {
		return nil, err
	}
	w.Capabilities = caps
	return &w, nil
}

// SetWorkerActive flips the active flag.
func (s *GormStore) SetWorkerActive(ctx context.Context, id string, active bool) error {
	result := s.db.WithContext(ctx).
		Model(&core.Worker{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrUnknownWorker
	}
	return nil
}

// MarkAssigned records the time a worker was last picked by the dispatcher,
// the recency the round-robin selection orders on.
func (s *GormStore) MarkAssigned(ctx context.Context, workerID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&core.Worker{}).
		Where("id = ?", workerID).
		Update("last_assigned_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrUnknownWorker
	}
	return nil
}

// CapableWorkers returns active workers declaring the kind, least recently
// assigned first. Workers never assigned sort before all others.
func (s *GormStore) CapableWorkers(ctx context.Context, kind string) ([]*core.Worker, error) {
	var workers []*core.Worker
	err := s.db.WithContext(ctx).
		Model(&core.Worker{}).
		Joins("JOIN worker_capabilities ON worker_capabilities.worker_id = workers.id").
		Where("worker_capabilities.kind = ? AND workers.active = ?", kind, true).
		Order("workers.last_assigned_at ASC, workers.id ASC").
		Find(&workers).Error
	if err != nil {
		return nil, err
	}
	for _, w := range workers {
		caps, err := s.capabilities(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		w.Capabilities = caps
	}
	return workers, nil
}

// RecordHeartbeat appends a heartbeat row and reactivates the worker if the
// monitor had declared it dead, healing after a transient partition.
func (s *GormStore) RecordHeartbeat(ctx context.Context, workerID string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w core.Worker
		if err := tx.First(&w, "id = ?", workerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrUnknownWorker
			}
			return err
		}
		if err := tx.Create(&core.Heartbeat{WorkerID: workerID, At: at}).Error; err != nil {
			return err
		}
		if !w.Active {
			if err := tx.Model(&core.Worker{}).
				Where("id = ?", workerID).
				Update("active", true).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// StaleWorkers returns active workers whose most recent heartbeat is older
// than cutoff. A worker that never heartbeat at all is judged by its
// registration time instead, so a freshly registered worker is not declared
// dead before its first heartbeat is due.
func (s *GormStore) StaleWorkers(ctx context.Context, cutoff time.Time) ([]*core.Worker, error) {
	sub := s.db.Model(&core.Heartbeat{}).
		Select("worker_id, MAX(at) AS last_at").
		Group("worker_id")

	var workers []*core.Worker
	err := s.db.WithContext(ctx).
		Model(&core.Worker{}).
		Joins("LEFT JOIN (?) hb ON hb.worker_id = workers.id", sub).
		Where("workers.active = ?", true).
		Where("COALESCE(hb.last_at, workers.registered_at) < ?", cutoff).
		Find(&workers).Error
	return workers, err
}

// LastHeartbeat returns the most recent heartbeat time for a worker, or the
// zero time if it never heartbeat.
func (s *GormStore) LastHeartbeat(ctx context.Context, workerID string) (time.Time, error) {
	var hb core.Heartbeat
	err := s.db.WithContext(ctx).
		Where("worker_id = ?", workerID).
		Order("at DESC").
		First(&hb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return hb.At, nil
}

func (s *GormStore) capabilities(ctx context.Context, workerID string) ([]string, error) {
	var rows []core.WorkerCapability
	err := s.db.WithContext(ctx).
		Where("worker_id = ?", workerID).
		Order("kind ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	kinds := make([]string, 0, len(rows))
	for _, r := range rows {
		kinds = append(kinds, r.Kind)
	}
	return kinds, nil
}
