// Package registry provides the worker registry and the heartbeat monitor:
// worker identity and capabilities, liveness tracking, and the
// requeue-on-death recovery mechanism.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskforge/pkg/core"
	"taskforge/pkg/security"
)

// Registry manages worker identity, capabilities and heartbeats on top of
// the store.
type Registry struct {
	store  core.Store
	logger *slog.Logger
	emit   func(core.Event)
}

// NewRegistry creates a worker registry. logger and emit may be nil.
func NewRegistry(store core.Store, logger *slog.Logger, emit func(core.Event)) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(core.Event) {}
	}
	return &Registry{store: store, logger: logger, emit: emit}
}

// Register upserts a worker. An empty workerID gets a generated one; reusing
// a known ID refreshes the registration (name update, reactivation,
// capability growth) and is idempotent beyond the timestamp refresh.
func (r *Registry) Register(ctx context.Context, workerID, name string, capabilities []string) (*core.Worker, error) {
	if err := security.ValidateWorkerName(name); err != nil {
		return nil, err
	}
	for _, kind := range capabilities {
		if err := security.ValidateKindName(kind); err != nil {
			return nil, err
		}
	}
	if workerID == "" {
		workerID = uuid.New().String()
	}

	w := &core.Worker{ID: workerID, Name: name}
	if err := r.store.UpsertWorker(ctx, w, capabilities); err != nil {
		return nil, err
	}

	r.logger.Info("worker registered", "worker_id", w.ID, "name", w.Name, "capabilities", w.Capabilities)
	r.emit(&core.WorkerRegistered{Worker: w, Timestamp: time.Now()})
	return w, nil
}

// Heartbeat appends a liveness event for a registered worker. A zero
// timestamp means now. An inactive worker heartbeating again is reactivated
// by the store.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := r.store.RecordHeartbeat(ctx, workerID, at); err != nil {
		return err
	}
	r.logger.Debug("heartbeat recorded", "worker_id", workerID, "at", at)
	return nil
}

// GetWorker retrieves a worker with its capability set.
func (r *Registry) GetWorker(ctx context.Context, workerID string) (*core.Worker, error) {
	return r.store.GetWorker(ctx, workerID)
}
