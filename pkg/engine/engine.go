// Package engine wires the coordinator together: task submission and
// lifecycle, the worker registry, the dispatcher, the liveness monitor,
// result ingestion, recurring submissions and event fanout.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"taskforge/pkg/core"
	"taskforge/pkg/dispatch"
	"taskforge/pkg/ingest"
	"taskforge/pkg/registry"
	"taskforge/pkg/schedule"
	"taskforge/pkg/security"
)

// recurringEntry is a named template submitted on a schedule.
type recurringEntry struct {
	kind     string
	input    []byte
	schedule schedule.Schedule
	lastRun  time.Time
}

// Engine is the task coordinator. It owns the store and broker handles and
// runs the background loops; all mutations of task and worker state flow
// through it.
type Engine struct {
	store      core.Store
	broker     core.Broker
	logger     *slog.Logger
	opts       *Options
	registry   *registry.Registry
	ingestor   *ingest.Ingestor
	dispatcher *dispatch.Dispatcher
	monitor    *registry.Monitor

	mu          sync.RWMutex
	subscribers []func(core.Event)
	recurring   map[string]*recurringEntry
}

// New creates an engine over the given store and broker and runs schema
// migration. The engine is usable immediately for direct operations; Start
// launches the background loops.
func New(ctx context.Context, store core.Store, brk core.Broker, opts ...Option) (*Engine, error) {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	e := &Engine{
		store:     store,
		broker:    brk,
		logger:    o.Logger,
		opts:      o,
		recurring: make(map[string]*recurringEntry),
	}
	e.registry = registry.NewRegistry(store, o.Logger, e.emit)
	e.ingestor = ingest.NewIngestor(store, o.Logger, e.emit)
	e.dispatcher = dispatch.NewDispatcher(store, brk, o.DispatchInterval, o.Logger, e.emit)
	e.dispatcher.SetBatchSize(o.DispatchBatch)
	e.monitor = registry.NewMonitor(store, o.MonitorInterval, o.Threshold(), o.Logger, e.emit)
	return e, nil
}

// Subscribe registers a callback for engine lifecycle events. Callbacks run
// synchronously on the goroutine that produced the event and must not block.
func (e *Engine) Subscribe(fn func(core.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

func (e *Engine) emit(event core.Event) {
	e.mu.RLock()
	subs := e.subscribers
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(event)
	}
}

// Start runs the dispatcher, the liveness monitor and the recurring
// scheduler until the context is cancelled. A one-shot liveness sweep runs
// first so tasks orphaned by a crash are requeued before dispatch resumes.
func (e *Engine) Start(ctx context.Context) error {
	if n, err := e.monitor.Sweep(ctx); err != nil {
		e.logger.Warn("startup recovery sweep failed", "error", err)
	} else if n > 0 {
		e.logger.Info("startup recovery requeued orphaned tasks", "count", n)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		e.monitor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		e.runScheduler(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// Task kinds

// RegisterKind creates a task kind, or returns the existing one. Reactivates
// a deactivated kind.
func (e *Engine) RegisterKind(ctx context.Context, name string) (*core.TaskKind, error) {
	if err := security.ValidateKindName(name); err != nil {
		return nil, err
	}
	kind, err := e.store.CreateKind(ctx, name)
	if err != nil {
		return nil, core.Transient("create kind", err)
	}
	if !kind.Active {
		if err := e.store.SetKindActive(ctx, name, true); err != nil {
			return nil, core.Transient("reactivate kind", err)
		}
		kind.Active = true
	}
	return kind, nil
}

// DeactivateKind stops new submissions for a kind. Existing tasks and
// capability declarations are untouched; kinds are never deleted.
func (e *Engine) DeactivateKind(ctx context.Context, name string) error {
	return e.store.SetKindActive(ctx, name, false)
}

// GetKind retrieves a kind by name.
func (e *Engine) GetKind(ctx context.Context, name string) (*core.TaskKind, error) {
	return e.store.GetKind(ctx, name)
}

// Task lifecycle

// SubmitTask accepts a new task for the given kind. The task starts pending
// and is picked up by the next dispatch pass.
func (e *Engine) SubmitTask(ctx context.Context, kind string, input []byte) (*core.Task, error) {
	if err := security.ValidateKindName(kind); err != nil {
		return nil, err
	}
	if err := security.ValidateInput(input); err != nil {
		return nil, err
	}

	task := &core.Task{Kind: kind, Input: input}
	if err := e.store.CreateTask(ctx, task); err != nil {
		if errors.Is(err, core.ErrUnknownKind) || errors.Is(err, core.ErrKindInactive) {
			return nil, err
		}
		return nil, core.Transient("create task", err)
	}

	e.logger.Info("task submitted", "task_id", task.ID, "kind", kind)
	e.emit(&core.TaskSubmitted{Task: task, Timestamp: time.Now()})
	return task, nil
}

// GetTask retrieves a task by ID.
func (e *Engine) GetTask(ctx context.Context, id string) (*core.Task, error) {
	return e.store.GetTask(ctx, id)
}

// GetTaskStatus returns the current status of a task.
func (e *Engine) GetTaskStatus(ctx context.Context, id string) (core.TaskStatus, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	return task.Status, nil
}

// GetResult returns the recorded result of a settled task.
func (e *Engine) GetResult(ctx context.Context, taskID string) (*core.TaskResult, error) {
	return e.store.GetResult(ctx, taskID)
}

// CancelTask terminates a task that has not started running. Returns
// ErrStaleTransition if the task is already running or settled.
func (e *Engine) CancelTask(ctx context.Context, id string) error {
	err := e.store.TransitionTask(ctx, id,
		core.TransitionSources(core.StatusCancelled), core.StatusCancelled, nil)
	if err != nil {
		return err
	}
	e.logger.Info("task cancelled", "task_id", id)
	e.emit(&core.TaskCancelled{TaskID: id, Timestamp: time.Now()})
	return nil
}

// MarkTaskRunning records that a worker started executing a queued task. The
// signal is informational; a task may settle without ever passing through
// running.
func (e *Engine) MarkTaskRunning(ctx context.Context, id, workerID string) error {
	return e.store.TransitionTask(ctx, id,
		core.TransitionSources(core.StatusRunning), core.StatusRunning, &workerID)
}

// Workers

// RegisterWorker registers a worker or refreshes an existing registration.
// An empty workerID gets a generated one.
func (e *Engine) RegisterWorker(ctx context.Context, workerID, name string, capabilities []string) (*core.Worker, error) {
	return e.registry.Register(ctx, workerID, name, capabilities)
}

// Heartbeat records a liveness signal for a worker. A zero timestamp means now.
func (e *Engine) Heartbeat(ctx context.Context, workerID string, at time.Time) error {
	return e.registry.Heartbeat(ctx, workerID, at)
}

// GetWorker retrieves a worker with its capability set.
func (e *Engine) GetWorker(ctx context.Context, workerID string) (*core.Worker, error) {
	return e.registry.GetWorker(ctx, workerID)
}

// Results

// ReportResult records the outcome of a task. Idempotent per task: retries
// and duplicate reports return nil without changing the stored result.
func (e *Engine) ReportResult(ctx context.Context, taskID, workerID string, outcome core.Outcome) error {
	return e.ingestor.Report(ctx, taskID, workerID, outcome)
}

// Recurring submissions

// RegisterRecurring registers a named template that is submitted on a
// schedule while the engine runs. Re-registering a name replaces its entry.
func (e *Engine) RegisterRecurring(name, kind string, input []byte, s schedule.Schedule) error {
	if err := security.ValidateKindName(kind); err != nil {
		return err
	}
	if err := security.ValidateInput(input); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recurring[name] = &recurringEntry{
		kind:     kind,
		input:    input,
		schedule: s,
		lastRun:  time.Now(),
	}
	return nil
}

// RemoveRecurring deletes a recurring entry. Already submitted tasks are
// unaffected.
func (e *Engine) RemoveRecurring(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.recurring, name)
}

func (e *Engine) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fireDue(ctx, time.Now())
		}
	}
}

func (e *Engine) fireDue(ctx context.Context, now time.Time) {
	e.mu.Lock()
	due := make(map[string]*recurringEntry)
	for name, entry := range e.recurring {
		if !entry.schedule.Next(entry.lastRun).After(now) {
			due[name] = entry
		}
	}
	e.mu.Unlock()

	// lastRun advances only on a successful submission, so an occurrence
	// lost to a transient failure is retried on the next tick rather than
	// silently dropped. fireDue runs sequentially on the scheduler
	// goroutine; nothing else writes lastRun.
	for name, entry := range due {
		if _, err := e.SubmitTask(ctx, entry.kind, entry.input); err != nil {
			e.logger.Error("recurring submission failed", "name", name, "kind", entry.kind, "error", err)
			continue
		}
		e.mu.Lock()
		entry.lastRun = now
		e.mu.Unlock()
	}
}
