// Package repository defines persistence ports for processes, batches and
// stored records.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

var (
	// ErrProcessNotFound is returned when no process has the requested id.
	ErrProcessNotFound = fmt.Errorf("process %w", exception.ErrNotFound)
	// ErrBatchNotFound is returned when no batch has the requested id.
	ErrBatchNotFound = fmt.Errorf("batch %w", exception.ErrNotFound)
)

// Process persists processes. Updates are guarded by the version column.
type Process interface {
	SaveProcess(ctx context.Context, p *model.Process) error
	UpdateProcess(ctx context.Context, p *model.Process) error
	FindProcessByID(ctx context.Context, id string) (*model.Process, error)
	// FindProcessesByStatus returns processes in any of statuses, oldest first. No statuses matches all.
	FindProcessesByStatus(ctx context.Context, statuses ...model.ProcessStatus) ([]*model.Process, error)
}

// Batch persists batch descriptors. Every write touches a single row.
type Batch interface {
	SaveBatches(ctx context.Context, batches []*model.Batch) error
	UpdateBatch(ctx context.Context, b *model.Batch) error
	FindBatchByID(ctx context.Context, id string) (*model.Batch, error)
	// FindBatchesByProcessID returns the batches of a process ordered by batch number.
	FindBatchesByProcessID(ctx context.Context, processID string) ([]*model.Batch, error)
	CountBatchesByProcessID(ctx context.Context, processID string) (int64, error)
	// ClaimBatch moves a claimable batch to IN_PROGRESS in one conditional
	// update. It returns nil when the batch is not claimable by the delivery
	// or another invocation won the race.
	ClaimBatch(ctx context.Context, id string, maxPriorAttempts int, now time.Time) (*model.Batch, error)
	// FindUndispatchedPending returns up to limit PENDING batches not yet handed to the queue.
	FindUndispatchedPending(ctx context.Context, processID string, limit int) ([]*model.Batch, error)
	// CountInFlight counts dispatched batches that have not reached a terminal status.
	CountInFlight(ctx context.Context, processID string) (int64, error)
	// MarkDispatched stamps dispatched_at on a PENDING, undispatched batch.
	// It reports false when the batch was already dispatched.
	MarkDispatched(ctx context.Context, id string, now time.Time) (bool, error)
	// ClearDispatched releases a dispatch slot after a failed enqueue.
	ClearDispatched(ctx context.Context, id string) error
}

// RecordFilter narrows record queries. Zero fields do not filter.
type RecordFilter struct {
	ProcessID  string
	Statuses   []model.VerificationStatus
	NaturalIDs []string
}

// Record persists migrated and enriched records, one table per resource type.
type Record interface {
	// UpsertRecord inserts rec or overwrites the row with the same natural id.
	UpsertRecord(ctx context.Context, rt model.ResourceType, rec *model.Record) error
	CountRecords(ctx context.Context, rt model.ResourceType, filter RecordFilter) (int64, error)
	BulkFetch(ctx context.Context, rt model.ResourceType, naturalIDs []string) ([]*model.Record, error)
	// ExistingNaturalIDs reports which of ids are already stored.
	ExistingNaturalIDs(ctx context.Context, rt model.ResourceType, ids []string) (map[string]bool, error)
	// ListRecordChunk returns up to limit records with id > afterID in id order.
	ListRecordChunk(ctx context.Context, rt model.ResourceType, filter RecordFilter, afterID int64, limit int) ([]*model.Record, error)
	SampleRecords(ctx context.Context, rt model.ResourceType, processID string, n int) ([]*model.Record, error)
	// UpdateVerification writes only the verification columns of one record.
	UpdateVerification(ctx context.Context, rt model.ResourceType, rec *model.Record) error
	// ResetVerification returns every record of a process to PENDING.
	ResetVerification(ctx context.Context, rt model.ResourceType, processID string) (int64, error)
	TruncateRecords(ctx context.Context, rt model.ResourceType) error
}
