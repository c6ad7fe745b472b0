package exception

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a process, batch, record or source item does not exist.
var ErrNotFound = errors.New("not found")

// AlreadyPlannedError is returned when batches already exist for a process.
type AlreadyPlannedError struct {
	ProcessID string
	Existing  int64
}

func (e *AlreadyPlannedError) Error() string {
	return fmt.Sprintf("process %s is already planned (%d batches exist)", e.ProcessID, e.Existing)
}

// InvalidFilterError rejects a filter set before any batch is created.
type InvalidFilterError struct {
	Key    string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	if e.Key == "" {
		return "invalid filter: " + e.Reason
	}
	return fmt.Sprintf("invalid filter %q: %s", e.Key, e.Reason)
}

// InvalidTransitionError rejects a state change without mutating anything.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// ItemError is the failure of a single item inside a batch. It never leaves the executor.
type ItemError struct {
	ItemID string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %s: %v", e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// SourceUnavailableError means the source API could not be reached at all.
type SourceUnavailableError struct {
	Op  string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable during %s: %v", e.Op, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// BatchFatalError aborts a whole batch. It is the only error the executor
// returns to the job queue, which retries it.
type BatchFatalError struct {
	BatchID string
	Err     error
	// Redelivery is set when the queue will deliver the batch again.
	Redelivery bool
}

func (e *BatchFatalError) Error() string {
	return fmt.Sprintf("batch %s failed: %v", e.BatchID, e.Err)
}

func (e *BatchFatalError) Unwrap() error { return e.Err }

// IsRetryable is always true; the queue bounds the number of attempts.
func (e *BatchFatalError) IsRetryable() bool { return true }

// IsBatchFatal reports whether err must abort the whole batch.
func IsBatchFatal(err error) bool {
	var fatal *BatchFatalError
	var unavailable *SourceUnavailableError
	return errors.As(err, &fatal) || errors.As(err, &unavailable)
}

// Kind maps an error to a stable identifier rendered by the API layer.
func Kind(err error) string {
	var (
		planned     *AlreadyPlannedError
		filter      *InvalidFilterError
		transition  *InvalidTransitionError
		unavailable *SourceUnavailableError
		fatal       *BatchFatalError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &planned):
		return "already_planned"
	case errors.As(err, &filter):
		return "invalid_filter"
	case errors.As(err, &transition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case IsOptimisticLockingFailure(err):
		return "conflict"
	case errors.As(err, &unavailable):
		return "source_unavailable"
	case errors.As(err, &fatal):
		return "batch_fatal"
	default:
		return "internal"
	}
}
