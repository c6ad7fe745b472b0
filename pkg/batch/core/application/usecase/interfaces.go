package usecase

import (
	"context"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

// CreateRequest describes a new process.
type CreateRequest struct {
	Name         string             `json:"name"`
	ResourceType model.ResourceType `json:"resource_type"`
	Filters      model.Filters      `json:"filters"`
	// ItemIDs selects id-slice planning. Enrichment types left without ids
	// are seeded from the stored ids of their shallow counterpart.
	ItemIDs []string `json:"item_ids,omitempty"`
	// BatchSize and ConcurrencyLimit fall back to the configured defaults when 0.
	BatchSize        int `json:"batch_size"`
	ConcurrencyLimit int `json:"concurrency_limit"`
}

// ProcessOperator owns the lifecycle of processes.
// Every state change is rejected with an InvalidTransitionError, leaving the
// process untouched, when the current status does not allow it.
type ProcessOperator interface {
	// Create validates the request, counts the source items, plans the
	// batches and persists a PENDING process. A process with nothing to
	// fetch is COMPLETED at once.
	Create(ctx context.Context, req CreateRequest) (*model.Process, error)

	// Dispatch enqueues undispatched PENDING batches while fewer than the
	// process's concurrency limit are in flight. It returns how many were enqueued.
	Dispatch(ctx context.Context, processID string) (int, error)

	// Pause suppresses further dispatch. Running batches finish normally.
	Pause(ctx context.Context, processID string) error

	// Resume clears a pause and dispatches the remaining PENDING batches.
	Resume(ctx context.Context, processID string) error

	// Cancel moves a PENDING or IN_PROGRESS process to CANCELLED.
	Cancel(ctx context.Context, processID string) error

	// RetryFailedBatches resets every FAILED batch to PENDING and dispatches
	// them. It returns the number of batches reset.
	RetryFailedBatches(ctx context.Context, processID string) (int, error)

	// Restart discards the stored records of the process's resource type and
	// runs every batch again from scratch.
	Restart(ctx context.Context, processID string) error
}

// ProcessExplorer reads process state.
type ProcessExplorer interface {
	// GetStatus aggregates the process's batches into a status report.
	GetStatus(ctx context.Context, processID string) (*ProcessStatusReport, error)

	// ListProcesses returns the processes in any of statuses, or all processes when none are given.
	ListProcesses(ctx context.Context, statuses ...model.ProcessStatus) ([]*model.Process, error)
}
