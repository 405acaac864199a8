// Package core provides the fundamental types and interfaces for the taskforge coordinator.
//
// This package contains:
//   - Task, TaskKind, TaskResult, Worker and Heartbeat data models with GORM annotations
//   - The task status state machine and its invariants
//   - Store and Broker interfaces defining the persistence and transport contracts
//   - The error taxonomy shared by all engine components
//   - Lifecycle event types emitted by the engine
package core
