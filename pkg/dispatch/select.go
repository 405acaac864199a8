// Package dispatch matches pending tasks to eligible workers and publishes
// them to the broker, performing the pending -> queued transition only after
// a confirmed publish.
package dispatch

import (
	"sort"

	"taskforge/pkg/core"
)

// EligibleWorkers returns the workers that may execute a task of the given
// kind, least recently assigned first. Pure function over its inputs so the
// selection policy can be tested without a store or broker.
//
// Ordering: workers never assigned come first (by ID for determinism), then
// ascending last-assignment time, ties broken by ID.
func EligibleWorkers(workers []*core.Worker, kind string) []*core.Worker {
	eligible := make([]*core.Worker, 0, len(workers))
	for _, w := range workers {
		if w.Active && w.CanExecute(kind) {
			eligible = append(eligible, w)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		switch {
		case a.LastAssignedAt == nil && b.LastAssignedAt == nil:
			return a.ID < b.ID
		case a.LastAssignedAt == nil:
			return true
		case b.LastAssignedAt == nil:
			return false
		case a.LastAssignedAt.Equal(*b.LastAssignedAt):
			return a.ID < b.ID
		default:
			return a.LastAssignedAt.Before(*b.LastAssignedAt)
		}
	})
	return eligible
}

// PickWorker selects the dispatch target for a task of the given kind:
// the least recently assigned eligible worker. Returns ErrNoCapableWorker
// when no active worker declares the kind.
func PickWorker(workers []*core.Worker, kind string) (*core.Worker, error) {
	eligible := EligibleWorkers(workers, kind)
	if len(eligible) == 0 {
		return nil, core.ErrNoCapableWorker
	}
	return eligible[0], nil
}
