package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/caseflow/pkg/batch/adapter/database"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

var nonTerminalBatchStatuses = []model.BatchStatus{model.BatchPending, model.BatchInProgress}

// BatchRepository implements repository.Batch.
type BatchRepository struct {
	conn database.DBConnection
}

// NewBatchRepository creates a BatchRepository.
func NewBatchRepository(conn database.DBConnection) *BatchRepository {
	return &BatchRepository{conn: conn}
}

var _ repository.Batch = (*BatchRepository)(nil)

func (r *BatchRepository) table(ctx context.Context) *gorm.DB {
	return r.conn.GormDB(ctx).Table(BatchEntity{}.TableName())
}

// SaveBatches inserts planned batches in chunks of 200 rows.
// batches: The batches of one process.
// Returns: An error if any insert fails.
func (r *BatchRepository) SaveBatches(ctx context.Context, batches []*model.Batch) error {
	const op = "BatchRepository.SaveBatches"
	if len(batches) == 0 {
		return nil
	}
	entities := make([]*BatchEntity, 0, len(batches))
	for _, b := range batches {
		entities = append(entities, fromDomainBatch(b))
	}
	if err := r.conn.GormDB(ctx).CreateInBatches(entities, 200).Error; err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save %d batches of process %s", len(batches), batches[0].ProcessID), err, false, true)
	}
	return nil
}

// UpdateBatch writes the mutable columns of b guarded by its version.
func (r *BatchRepository) UpdateBatch(ctx context.Context, b *model.Batch) error {
	const op = "BatchRepository.UpdateBatch"

	originalVersion := b.Version
	b.Version++
	rows, err := r.conn.ExecuteUpdate(ctx, BatchEntity{}.TableName(), batchValues(b),
		map[string]interface{}{"id": b.ID, "version": originalVersion})
	if err != nil {
		b.Version = originalVersion
		return exception.NewBatchError(op, fmt.Sprintf("failed to update batch (ID: %s)", b.ID), err, false, true)
	}
	if rows == 0 {
		b.Version = originalVersion
		return exception.NewOptimisticLockingFailureException("repository",
			fmt.Sprintf("batch (ID: %s) with version %d not found for update", b.ID, originalVersion), nil)
	}
	return nil
}

// FindBatchByID loads one batch.
// id: The batch ID.
// Returns: The batch, or repository.ErrBatchNotFound.
func (r *BatchRepository) FindBatchByID(ctx context.Context, id string) (*model.Batch, error) {
	const op = "BatchRepository.FindBatchByID"
	var entity BatchEntity
	err := r.table(ctx).Where("id = ?", id).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrBatchNotFound
	}
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find batch by ID: %s", id), err, false, true)
	}
	return toDomainBatch(&entity), nil
}

// FindBatchesByProcessID lists the batches of a process ordered by batch_number.
func (r *BatchRepository) FindBatchesByProcessID(ctx context.Context, processID string) ([]*model.Batch, error) {
	const op = "BatchRepository.FindBatchesByProcessID"
	var entities []BatchEntity
	if err := r.table(ctx).Where("process_id = ?", processID).Order("batch_number").Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to list batches of process %s", processID), err, false, true)
	}
	return toDomainBatches(entities), nil
}

// CountBatchesByProcessID counts the batches a process owns. The planner
// uses it to reject planning a process twice.
func (r *BatchRepository) CountBatchesByProcessID(ctx context.Context, processID string) (int64, error) {
	count, err := r.conn.Count(ctx, BatchEntity{}.TableName(), map[string]interface{}{"process_id": processID})
	if err != nil {
		return 0, exception.NewBatchError("BatchRepository.CountBatchesByProcessID", fmt.Sprintf("failed to count batches of process %s", processID), err, false, true)
	}
	return count, nil
}

// ClaimBatch implements repository.Batch. The update is conditioned on the
// version and status that made the batch claimable.
func (r *BatchRepository) ClaimBatch(ctx context.Context, id string, maxPriorAttempts int, now time.Time) (*model.Batch, error) {
	const op = "BatchRepository.ClaimBatch"
	b, err := r.FindBatchByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.ClaimableBy(maxPriorAttempts) {
		return nil, nil
	}

	observed := map[string]interface{}{"id": b.ID, "version": b.Version, "status": b.Status}
	if err := b.Start(now); err != nil {
		return nil, err
	}
	b.Version++
	rows, err := r.conn.ExecuteUpdate(ctx, BatchEntity{}.TableName(), batchValues(b), observed)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to claim batch (ID: %s)", id), err, false, true)
	}
	if rows == 0 {
		return nil, nil
	}
	return b, nil
}

// FindUndispatchedPending returns up to limit PENDING batches that were not
// handed to the queue yet, lowest batch_number first.
// processID: The owning process.
// limit: The number of free dispatch slots.
// Returns: The dispatchable batches; nil when limit <= 0.
func (r *BatchRepository) FindUndispatchedPending(ctx context.Context, processID string, limit int) ([]*model.Batch, error) {
	const op = "BatchRepository.FindUndispatchedPending"
	if limit <= 0 {
		return nil, nil
	}
	var entities []BatchEntity
	err := r.table(ctx).
		Where("process_id = ? AND status = ? AND dispatched_at IS NULL", processID, model.BatchPending).
		Order("batch_number").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to list pending batches of process %s", processID), err, false, true)
	}
	return toDomainBatches(entities), nil
}

// CountInFlight counts the dispatched batches that are still PENDING or
// IN_PROGRESS. A FAILED batch awaiting redelivery does not occupy a slot.
// processID: The owning process.
// Returns: The number of occupied dispatch slots.
func (r *BatchRepository) CountInFlight(ctx context.Context, processID string) (int64, error) {
	var count int64
	err := r.table(ctx).
		Where("process_id = ? AND dispatched_at IS NOT NULL AND status IN ?", processID, nonTerminalBatchStatuses).
		Count(&count).Error
	if err != nil {
		return 0, exception.NewBatchError("BatchRepository.CountInFlight", fmt.Sprintf("failed to count in-flight batches of process %s", processID), err, false, true)
	}
	return count, nil
}

// MarkDispatched stamps dispatched_at on a PENDING, undispatched batch.
// Returns: false when another dispatcher stamped it first.
func (r *BatchRepository) MarkDispatched(ctx context.Context, id string, now time.Time) (bool, error) {
	rows, err := r.conn.ExecuteUpdate(ctx, BatchEntity{}.TableName(),
		map[string]interface{}{"dispatched_at": now, "updated_at": now, "version": gorm.Expr("version + 1")},
		map[string]interface{}{"id": id, "status": model.BatchPending, "dispatched_at": nil})
	if err != nil {
		return false, exception.NewBatchError("BatchRepository.MarkDispatched", fmt.Sprintf("failed to mark batch %s dispatched", id), err, false, true)
	}
	return rows == 1, nil
}

// ClearDispatched makes a PENDING batch dispatchable again after its job was lost.
func (r *BatchRepository) ClearDispatched(ctx context.Context, id string) error {
	_, err := r.conn.ExecuteUpdate(ctx, BatchEntity{}.TableName(),
		map[string]interface{}{"dispatched_at": nil, "updated_at": time.Now(), "version": gorm.Expr("version + 1")},
		map[string]interface{}{"id": id, "status": model.BatchPending})
	if err != nil {
		return exception.NewBatchError("BatchRepository.ClearDispatched", fmt.Sprintf("failed to clear dispatch of batch %s", id), err, false, true)
	}
	return nil
}

func toDomainBatches(entities []BatchEntity) []*model.Batch {
	out := make([]*model.Batch, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainBatch(&entities[i]))
	}
	return out
}
