package core

import (
	"errors"
	"fmt"
)

// Validation errors: the caller's fault, surfaced immediately, never retried.
var (
	ErrUnknownKind       = errors.New("taskforge: unknown task kind")
	ErrKindInactive      = errors.New("taskforge: task kind is deactivated")
	ErrUnknownWorker     = errors.New("taskforge: unknown worker")
	ErrInvalidKindName   = errors.New("taskforge: invalid kind name (must be alphanumeric, start with letter)")
	ErrKindNameTooLong   = errors.New("taskforge: kind name too long")
	ErrInvalidWorkerName = errors.New("taskforge: invalid worker name")
	ErrInputTooLarge     = errors.New("taskforge: task input exceeds size limit")
	ErrInvalidOutcome    = errors.New("taskforge: outcome must carry exactly one of output or error")
)

// Lookup errors.
var (
	ErrTaskNotFound   = errors.New("taskforge: task not found")
	ErrResultNotFound = errors.New("taskforge: task result not found")
)

// Conflict errors: expected races under concurrency. The losing side is
// discarded and the error is swallowed by the component that hit it.
var (
	ErrStaleTransition = errors.New("taskforge: stale status transition")
	ErrTaskSettled     = errors.New("taskforge: task already settled")
)

// ErrNoCapableWorker means no active worker declares the task's kind. The
// task stays pending and is retried on the next dispatcher pass.
var ErrNoCapableWorker = errors.New("taskforge: no active worker for task kind")

// TransientError wraps a store or broker failure that is safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("taskforge: transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable infrastructure failure.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable infrastructure failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConflict reports whether err is an expected concurrency race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStaleTransition) || errors.Is(err, ErrTaskSettled)
}

// IsValidation reports whether err is a caller mistake rather than a fault
// of the engine or its infrastructure.
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrUnknownKind, ErrKindInactive, ErrUnknownWorker,
		ErrInvalidKindName, ErrKindNameTooLong, ErrInvalidWorkerName,
		ErrInputTooLarge, ErrInvalidOutcome,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
