// Package taskforge provides a distributed task coordinator: task submission
// and lifecycle, kind-based routing to capable workers, heartbeat liveness
// with automatic requeue, and idempotent result ingestion.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and broker
//	db, _ := gorm.Open(sqlite.Open("taskforge.db"), &gorm.Config{})
//	store := taskforge.NewGormStore(db)
//	brk := taskforge.NewMemoryBroker()
//
//	// Create and start the engine
//	eng, _ := taskforge.New(ctx, store, brk)
//	go eng.Start(ctx)
//
//	// Register a worker and submit work
//	w, _ := eng.RegisterWorker(ctx, "", "img-worker-1", []string{"resize-image"})
//	task, _ := eng.SubmitTask(ctx, "resize-image", []byte(`{"width":640}`))
package taskforge

import (
	"context"
	"time"

	"gorm.io/gorm"

	"taskforge/pkg/broker"
	"taskforge/pkg/core"
	"taskforge/pkg/engine"
	"taskforge/pkg/schedule"
	"taskforge/pkg/security"
	"taskforge/pkg/storage"
)

// Type aliases re-exported from the pkg/ packages.
type (
	// Task represents one unit of submitted work.
	Task = core.Task

	// TaskKind is a named category of work.
	TaskKind = core.TaskKind

	// TaskStatus represents the current state of a task.
	TaskStatus = core.TaskStatus

	// TaskResult holds the outcome of a settled task.
	TaskResult = core.TaskResult

	// Outcome is a reported task result.
	Outcome = core.Outcome

	// Worker is a registered task executor.
	Worker = core.Worker

	// Store defines the persistence layer for the coordinator.
	Store = core.Store

	// Broker is the transport between the coordinator and its workers.
	Broker = core.Broker

	// TaskMessage is the payload published to a kind's queue.
	TaskMessage = core.TaskMessage

	// Event is the interface for all engine lifecycle events.
	Event = core.Event

	// TaskSubmitted is emitted when a task is accepted into the store.
	TaskSubmitted = core.TaskSubmitted

	// TaskDispatched is emitted after a confirmed publish moved a task to queued.
	TaskDispatched = core.TaskDispatched

	// TaskRequeued is emitted when an in-flight task reverts to pending.
	TaskRequeued = core.TaskRequeued

	// TaskSettled is emitted when a task reaches a terminal state with a result.
	TaskSettled = core.TaskSettled

	// TaskCancelled is emitted on explicit cancellation.
	TaskCancelled = core.TaskCancelled

	// WorkerRegistered is emitted on worker registration or re-registration.
	WorkerRegistered = core.WorkerRegistered

	// WorkerDeactivated is emitted when a worker is declared dead.
	WorkerDeactivated = core.WorkerDeactivated

	// Engine is the task coordinator.
	Engine = engine.Engine

	// Option modifies engine Options.
	Option = engine.Option

	// Options holds engine configuration.
	Options = engine.Options

	// Schedule defines when a recurring submission fires next.
	Schedule = schedule.Schedule

	// GormStore implements Store using GORM.
	GormStore = storage.GormStore

	// MemoryBroker is an in-process Broker for tests and examples.
	MemoryBroker = broker.MemoryBroker

	// RedisBroker implements Broker over Redis lists.
	RedisBroker = broker.RedisBroker
)

// Status constants
const (
	StatusPending   = core.StatusPending
	StatusQueued    = core.StatusQueued
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
	StatusCancelled = core.StatusCancelled
)

// Security limits
const (
	MaxKindNameLength     = security.MaxKindNameLength
	MaxWorkerNameLength   = security.MaxWorkerNameLength
	MaxInputSize          = security.MaxInputSize
	MaxResultSize         = security.MaxResultSize
	MaxErrorPayloadLength = security.MaxErrorPayloadLength
)

// Error variables
var (
	ErrUnknownKind       = core.ErrUnknownKind
	ErrKindInactive      = core.ErrKindInactive
	ErrUnknownWorker     = core.ErrUnknownWorker
	ErrInvalidKindName   = core.ErrInvalidKindName
	ErrInvalidWorkerName = core.ErrInvalidWorkerName
	ErrInputTooLarge     = core.ErrInputTooLarge
	ErrInvalidOutcome    = core.ErrInvalidOutcome
	ErrTaskNotFound      = core.ErrTaskNotFound
	ErrResultNotFound    = core.ErrResultNotFound
	ErrStaleTransition   = core.ErrStaleTransition
	ErrTaskSettled       = core.ErrTaskSettled
	ErrNoCapableWorker   = core.ErrNoCapableWorker
)

// New creates an engine over the given store and broker.
func New(ctx context.Context, store Store, brk Broker, opts ...Option) (*Engine, error) {
	return engine.New(ctx, store, brk, opts...)
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return broker.NewMemoryBroker()
}

// NewRedisBroker connects to Redis and verifies the connection with a ping.
func NewRedisBroker(ctx context.Context, addr string) (*RedisBroker, error) {
	return broker.NewRedisBroker(ctx, addr)
}

// Engine option functions

// WithDispatchInterval sets how often the dispatcher scans the pending backlog.
func WithDispatchInterval(d time.Duration) Option {
	return engine.WithDispatchInterval(d)
}

// WithMonitorInterval sets how often the liveness monitor sweeps.
func WithMonitorInterval(d time.Duration) Option {
	return engine.WithMonitorInterval(d)
}

// WithHeartbeatInterval sets the heartbeat cadence workers are expected to keep.
func WithHeartbeatInterval(d time.Duration) Option {
	return engine.WithHeartbeatInterval(d)
}

// WithLivenessThreshold sets the silence window before a worker is declared dead.
func WithLivenessThreshold(d time.Duration) Option {
	return engine.WithLivenessThreshold(d)
}

// WithDispatchBatch bounds how many pending tasks one dispatch pass picks up.
func WithDispatchBatch(n int) Option {
	return engine.WithDispatchBatch(n)
}

// Schedule constructors

// Every creates a schedule that fires at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that fires at a specific UTC time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that fires at a specific day and UTC time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a standard five-field cron expression.
func Cron(expr string) (Schedule, error) {
	return schedule.Cron(expr)
}

// Validation helpers

// ValidateKindName validates a task kind name.
func ValidateKindName(name string) error {
	return security.ValidateKindName(name)
}

// ValidateWorkerName validates a worker display name.
func ValidateWorkerName(name string) error {
	return security.ValidateWorkerName(name)
}

// SanitizeErrorPayload truncates and sanitizes error payloads for storage.
func SanitizeErrorPayload(msg string) string {
	return security.SanitizeErrorPayload(msg)
}
