// Package partitioner splits a process into fixed-size batches before any
// work is dispatched.
package partitioner

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const moduleName = "planner"

// Plan splits sourceItemCount items into ceil(sourceItemCount/batchSize)
// batches numbered from 1. A process carrying an id list is sliced by id;
// otherwise each batch is one source page. Plan is deterministic.
func Plan(process *model.Process, sourceItemCount int64, batchSize int) ([]*model.Batch, error) {
	if batchSize <= 0 {
		return nil, exception.NewBatchErrorf(moduleName, "batch size must be positive, got %d", batchSize)
	}
	if sourceItemCount < 0 {
		return nil, exception.NewBatchErrorf(moduleName, "source item count must not be negative, got %d", sourceItemCount)
	}

	ids := []string(process.ItemIDs)
	if len(ids) > 0 && int64(len(ids)) != sourceItemCount {
		logger.Warnf("Process %s: planning %d known ids, ignoring source count %d.", process.ID, len(ids), sourceItemCount)
		sourceItemCount = int64(len(ids))
	}
	if sourceItemCount == 0 {
		return []*model.Batch{}, nil
	}

	n := int((sourceItemCount + int64(batchSize) - 1) / int64(batchSize))
	now := time.Now()
	batches := make([]*model.Batch, 0, n)
	for i := 0; i < n; i++ {
		lo := int64(i) * int64(batchSize)
		hi := lo + int64(batchSize)
		if hi > sourceItemCount {
			hi = sourceItemCount
		}
		b := &model.Batch{
			ID:             model.NewID(),
			ProcessID:      process.ID,
			ResourceType:   process.ResourceType,
			BatchNumber:    i + 1,
			Status:         model.BatchPending,
			ItemsRequested: int(hi - lo),
			FailedItemIDs:  model.StringList{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if len(ids) > 0 {
			b.ItemIDs = append(model.StringList{}, ids[lo:hi]...)
		} else {
			b.PageIndex = i + 1
			b.PageSize = batchSize
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Planner persists planned batches.
type Planner struct {
	batches repository.Batch
}

// NewPlanner creates a Planner.
func NewPlanner(batches repository.Batch) *Planner {
	return &Planner{batches: batches}
}

// PlanAndSave plans the process and persists the batch descriptors. It
// fails with AlreadyPlannedError when the process already owns batches.
func (p *Planner) PlanAndSave(ctx context.Context, process *model.Process, sourceItemCount int64) ([]*model.Batch, error) {
	existing, err := p.batches.CountBatchesByProcessID(ctx, process.ID)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, &exception.AlreadyPlannedError{ProcessID: process.ID, Existing: existing}
	}

	batches, err := Plan(process, sourceItemCount, process.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return batches, nil
	}
	if err := p.batches.SaveBatches(ctx, batches); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to persist %d batches of process %s", len(batches), process.ID), err, false, true)
	}
	logger.Infof("Process %s planned into %d batches of up to %d items.", process.ID, len(batches), process.BatchSize)
	return batches, nil
}
