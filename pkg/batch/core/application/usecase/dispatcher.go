package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// interruptedReason is recorded on batches found running at startup.
const interruptedReason = "interrupted: executor stopped before the batch finished"

// Dispatch implements ProcessOperator.
func (o *DefaultProcessOperator) Dispatch(ctx context.Context, processID string) (int, error) {
	unlock := o.lock(processID)
	defer unlock()

	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return 0, err
	}
	return o.dispatchLocked(ctx, p)
}

// dispatchLocked fills the free dispatch slots of p. The caller holds the process lock.
func (o *DefaultProcessOperator) dispatchLocked(ctx context.Context, p *model.Process) (int, error) {
	log := logger.With("process_id", p.ID)
	if p.Status.IsFinished() {
		log.Debugf("Dispatch suppressed: process is %s.", p.Status)
		return 0, nil
	}
	if p.IsPaused() {
		log.Debugf("Dispatch suppressed: process is paused.")
		return 0, nil
	}

	inFlight, err := o.batches.CountInFlight(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	slots := p.ConcurrencyLimit - int(inFlight)
	if slots <= 0 {
		return 0, nil
	}
	pending, err := o.batches.FindUndispatchedPending(ctx, p.ID, slots)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if p.Status == model.ProcessPending {
		if err := p.MarkStarted(o.now()); err != nil {
			return 0, err
		}
		if err := o.processes.UpdateProcess(ctx, p); err != nil {
			return 0, err
		}
		o.recorder.RecordProcessStatus(ctx, p)
		log.Infof("Process started.")
	}

	var result *multierror.Error
	dispatched := 0
	for _, b := range pending {
		ok, err := o.batches.MarkDispatched(ctx, b.ID, o.now())
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !ok {
			continue
		}
		job := port.Job{ProcessID: p.ID, BatchID: b.ID, BaseAttempts: b.Attempts}
		if _, err := o.queue.Enqueue(ctx, o.opts.QueueName, job, port.EnqueueOptions{MaxAttempts: o.opts.MaxAttempts}); err != nil {
			if cerr := o.batches.ClearDispatched(context.WithoutCancel(ctx), b.ID); cerr != nil {
				log.Errorf("Failed to release dispatch slot of batch %s: %v", b.ID, cerr)
			}
			result = multierror.Append(result, fmt.Errorf("enqueue batch %d: %w", b.BatchNumber, err))
			continue
		}
		dispatched++
	}
	log.Infof("Dispatched %d batches (%d were in flight, limit %d).", dispatched, inFlight, p.ConcurrencyLimit)
	if err := result.ErrorOrNil(); err != nil {
		return dispatched, exception.NewBatchError(moduleName, fmt.Sprintf("dispatch of process %s was incomplete", p.ID), err, false, true)
	}
	return dispatched, nil
}

// BeforeBatch implements port.BatchListener.
func (o *DefaultProcessOperator) BeforeBatch(ctx context.Context, batch *model.Batch) {}

// AfterBatch implements port.BatchListener. It completes the process once
// every batch is terminal and refills the freed dispatch slot otherwise.
// A fatal attempt the queue will redeliver is left alone.
func (o *DefaultProcessOperator) AfterBatch(ctx context.Context, batch *model.Batch, result model.BatchResult, err error) {
	var fatal *exception.BatchFatalError
	if errors.As(err, &fatal) && fatal.Redelivery {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := o.advance(ctx, batch.ProcessID); err != nil {
		logger.Errorf("Process %s: failed to advance after batch %d: %v", batch.ProcessID, batch.BatchNumber, err)
	}
}

// advance completes the process when all of its batches are terminal, or dispatches more.
func (o *DefaultProcessOperator) advance(ctx context.Context, processID string) error {
	unlock := o.lock(processID)
	defer unlock()

	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return err
	}
	if p.Status.IsFinished() {
		return nil
	}
	done, err := o.completeIfDone(ctx, p)
	if err != nil || done {
		return err
	}
	_, err = o.dispatchLocked(ctx, p)
	return err
}

// completeIfDone marks p COMPLETED when it owns at least one batch and all
// of them are settled. A fatal attempt awaiting redelivery keeps p open.
func (o *DefaultProcessOperator) completeIfDone(ctx context.Context, p *model.Process) (bool, error) {
	batches, err := o.batches.FindBatchesByProcessID(ctx, p.ID)
	if err != nil {
		return false, err
	}
	if !allTerminal(batches) {
		return false, nil
	}
	if err := o.markCompleted(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

func allTerminal(batches []*model.Batch) bool {
	if len(batches) == 0 {
		return false
	}
	for _, b := range batches {
		if !b.IsSettled() {
			return false
		}
	}
	return true
}

// PollCompletion re-evaluates every IN_PROGRESS process. It backs up the
// event-driven path when a notification was lost.
func (o *DefaultProcessOperator) PollCompletion(ctx context.Context) error {
	active, err := o.processes.FindProcessesByStatus(ctx, model.ProcessInProgress)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, p := range active {
		if err := o.advance(ctx, p.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("process %s: %w", p.ID, err))
		}
	}
	return result.ErrorOrNil()
}

// RecoverInterrupted releases the batches left behind by a previous run of
// the service: batches still IN_PROGRESS go back to PENDING through FAILED,
// FAILED batches whose redelivery was lost with the queue go back to PENDING,
// and PENDING batches whose jobs were lost are made dispatchable. Each
// affected process is then dispatched again. PENDING processes never had a
// batch dispatched.
func (o *DefaultProcessOperator) RecoverInterrupted(ctx context.Context) error {
	active, err := o.processes.FindProcessesByStatus(ctx, model.ProcessInProgress)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, p := range active {
		if err := o.recoverProcess(ctx, p.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("process %s: %w", p.ID, err))
		}
	}
	return result.ErrorOrNil()
}

func (o *DefaultProcessOperator) recoverProcess(ctx context.Context, processID string) error {
	unlock := o.lock(processID)
	defer unlock()

	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return err
	}
	batches, err := o.batches.FindBatchesByProcessID(ctx, p.ID)
	if err != nil {
		return err
	}
	released := 0
	for _, b := range batches {
		switch {
		case b.Status == model.BatchInProgress:
			if err := b.Fail(interruptedReason, false, o.now()); err != nil {
				return err
			}
			if err := b.ResetForRetry(); err != nil {
				return err
			}
			if err := o.batches.UpdateBatch(ctx, b); err != nil {
				return err
			}
			released++
		case b.Status == model.BatchFailed && b.AwaitingRedelivery:
			if err := b.ResetForRetry(); err != nil {
				return err
			}
			if err := o.batches.UpdateBatch(ctx, b); err != nil {
				return err
			}
			released++
		case b.Status == model.BatchPending && b.DispatchedAt != nil:
			if err := o.batches.ClearDispatched(ctx, b.ID); err != nil {
				return err
			}
			released++
		}
	}
	if released > 0 {
		logger.Warnf("Process %s: released %d batches interrupted by the previous shutdown.", p.ID, released)
	}
	done, err := o.completeIfDone(ctx, p)
	if err != nil || done {
		return err
	}
	_, err = o.dispatchLocked(ctx, p)
	return err
}
