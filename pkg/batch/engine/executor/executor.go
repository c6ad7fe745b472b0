// Package executor runs one batch per queue delivery: it claims the batch,
// fetches its items from the source, stores them and records the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/progress"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const moduleName = "executor"

// Options tunes an Executor.
type Options struct {
	// ItemConcurrency bounds concurrent item fetches inside one batch.
	ItemConcurrency int
	// HeartbeatTTL is the lifetime of the process heartbeat entry.
	HeartbeatTTL time.Duration
}

// Executor executes batches. It is safe for concurrent use by queue workers.
type Executor struct {
	processes repository.Process
	batches   repository.Batch
	records   repository.Record
	source    port.SourceClient
	progress  port.ProgressStore
	tracer    metrics.Tracer
	opts      Options

	mu             sync.RWMutex
	batchListeners []port.BatchListener
	itemListeners  []port.ItemListener

	now func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(
	processes repository.Process,
	batches repository.Batch,
	records repository.Record,
	source port.SourceClient,
	progressStore port.ProgressStore,
	tracer metrics.Tracer,
	opts Options,
) *Executor {
	if opts.ItemConcurrency <= 0 {
		opts.ItemConcurrency = 1
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = time.Hour
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Executor{
		processes: processes,
		batches:   batches,
		records:   records,
		source:    source,
		progress:  progressStore,
		tracer:    tracer,
		opts:      opts,
		now:       time.Now,
	}
}

// RegisterBatchListener adds l to the listeners notified around each batch.
func (e *Executor) RegisterBatchListener(l port.BatchListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchListeners = append(e.batchListeners, l)
}

// RegisterItemListener adds l to the listeners notified per item.
func (e *Executor) RegisterItemListener(l port.ItemListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.itemListeners = append(e.itemListeners, l)
}

// Handle is the port.JobHandler of the batch queue.
func (e *Executor) Handle(ctx context.Context, job port.Job) error {
	_, err := e.Execute(ctx, job)
	return err
}

// itemOutcome is the result of one item: stored, failed or skipped.
type itemOutcome struct {
	id      string
	item    *model.Item
	fetched bool
	stored  bool
	skipped bool
	// unavailable marks a fetch that failed because the source was unreachable.
	unavailable bool
	err         error
}

// Execute runs the batch named by job. A batch that is not claimable (already
// running, finished, or claimed by a duplicate delivery) yields a zero result
// and no error. Only a batch-level failure is returned as an error.
func (e *Executor) Execute(ctx context.Context, job port.Job) (model.BatchResult, error) {
	log := logger.With("batch_id", job.BatchID, "process_id", job.ProcessID, "attempt", job.Attempt)

	process, err := e.processes.FindProcessByID(ctx, job.ProcessID)
	if err != nil {
		return model.BatchResult{}, e.infraError("failed to load process", job, err)
	}
	if process.Status.IsTerminal() {
		log.Infof("Process is %s; batch not started.", process.Status)
		return model.BatchResult{}, nil
	}

	batch, err := e.batches.ClaimBatch(ctx, job.BatchID, job.MaxPriorAttempts(), e.now())
	if err != nil {
		return model.BatchResult{}, e.infraError("failed to claim batch", job, err)
	}
	if batch == nil {
		log.Infof("Batch is not claimable by this delivery; skipping.")
		return model.BatchResult{}, nil
	}

	ctx, endSpan := e.tracer.StartBatchSpan(ctx, batch)
	defer endSpan()
	log = log.With("batch_number", batch.BatchNumber, "resource_type", batch.ResourceType)
	log.Infof("Batch claimed (attempt %d).", batch.Attempts)
	e.notifyBefore(ctx, batch)

	outcomes, fatal := e.run(ctx, process, batch)
	if fatal != nil {
		return model.BatchResult{}, e.failBatch(ctx, job, batch, fatal, log)
	}

	result := summarize(outcomes)
	if err := batch.Finish(result, e.now()); err != nil {
		return result, e.failBatch(ctx, job, batch, err, log)
	}
	if err := e.batches.UpdateBatch(context.WithoutCancel(ctx), batch); err != nil {
		return result, e.infraError("failed to persist batch result", job, err)
	}
	log.Infof("Batch %s: received=%d stored=%d failed=%d skipped=%d.",
		batch.Status, result.Received, result.Processed, result.Failed, result.Skipped)

	e.notifyAfter(ctx, batch, result, nil)
	e.heartbeat(ctx, batch)
	return result, nil
}

// run fetches and stores the items of batch. The returned error is batch-fatal.
func (e *Executor) run(ctx context.Context, process *model.Process, batch *model.Batch) ([]itemOutcome, error) {
	if batch.IsPageBatch() {
		return e.runPage(ctx, process, batch)
	}
	return e.runIDs(ctx, batch)
}

func (e *Executor) runPage(ctx context.Context, process *model.Process, batch *model.Batch) ([]itemOutcome, error) {
	res, err := e.source.Search(ctx, batch.ResourceType, process.Filters, batch.PageIndex, batch.PageSize)
	if err != nil {
		return nil, fmt.Errorf("search page %d: %w", batch.PageIndex, err)
	}
	limit := batch.PageLimit()
	items := res.Items
	if len(items) > limit {
		items = items[:limit]
	}
	invalid := res.Invalid
	if room := limit - len(items); len(invalid) > room {
		invalid = invalid[:room]
	}
	e.tracer.RecordEvent(ctx, "items.fetched", map[string]interface{}{"mode": "page", "count": len(items), "invalid": len(invalid)})

	outcomes := make([]itemOutcome, len(items), len(items)+len(invalid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ItemConcurrency)
	for i := range items {
		i := i
		item := items[i]
		g.Go(func() error {
			outcomes[i] = itemOutcome{id: item.ID, item: &item, fetched: true}
			outcomes[i].err = e.store(gctx, batch, &item)
			outcomes[i].stored = outcomes[i].err == nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, inv := range invalid {
		id := fmt.Sprintf("page-%d#%d", batch.PageIndex, inv.Position+1)
		outcomes = append(outcomes, itemOutcome{id: id, fetched: true, err: &exception.ItemError{ItemID: id, Err: inv.Err}})
	}
	e.notifyItems(ctx, batch, outcomes)
	return outcomes, nil
}

func (e *Executor) runIDs(ctx context.Context, batch *model.Batch) ([]itemOutcome, error) {
	ids := []string(batch.ItemIDs)
	outcomes := make([]itemOutcome, len(ids))
	for i, id := range ids {
		outcomes[i].id = id
	}

	d := batch.ResourceType.MustDescriptor()
	if d.Enrichment {
		existing, err := e.records.ExistingNaturalIDs(ctx, batch.ResourceType, ids)
		if err != nil {
			return nil, fmt.Errorf("check stored ids: %w", err)
		}
		for i, id := range ids {
			outcomes[i].skipped = existing[id]
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ItemConcurrency)
	for i := range outcomes {
		if outcomes[i].skipped {
			continue
		}
		i := i
		g.Go(func() error {
			out := &outcomes[i]
			item, err := e.source.FetchByID(gctx, batch.ResourceType, out.id)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				out.err = err
				out.unavailable = exception.IsBatchFatal(err)
				return nil
			}
			out.item = item
			out.fetched = true
			out.err = e.store(gctx, batch, item)
			out.stored = out.err == nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := sourceOutage(outcomes); err != nil {
		return nil, err
	}
	e.notifyItems(ctx, batch, outcomes)
	return outcomes, nil
}

// sourceOutage returns a batch-fatal error when every fetched item failed
// because the source was unreachable. Isolated timeouts stay item failures.
func sourceOutage(outcomes []itemOutcome) error {
	var first error
	attempted := 0
	for _, o := range outcomes {
		if o.skipped {
			continue
		}
		attempted++
		if !o.unavailable {
			return nil
		}
		if first == nil {
			first = o.err
		}
	}
	if attempted == 0 {
		return nil
	}
	return fmt.Errorf("source unavailable for all %d items: %w", attempted, first)
}

func (e *Executor) store(ctx context.Context, batch *model.Batch, item *model.Item) error {
	rec := model.NewRecord(batch.ResourceType, batch, *item, e.now())
	if err := e.records.UpsertRecord(ctx, batch.ResourceType, rec); err != nil {
		return &exception.ItemError{ItemID: item.ID, Err: err}
	}
	return nil
}

func summarize(outcomes []itemOutcome) model.BatchResult {
	result := model.BatchResult{FailedIDs: []string{}}
	for _, o := range outcomes {
		switch {
		case o.skipped:
			result.Skipped++
		case o.stored:
			result.Received++
			result.Processed++
		default:
			if o.fetched {
				result.Received++
			}
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, o.id)
		}
	}
	return result
}

// failBatch records a batch-level failure and returns the error for the queue.
func (e *Executor) failBatch(ctx context.Context, job port.Job, batch *model.Batch, cause error, log *logger.Scoped) error {
	e.tracer.RecordError(ctx, moduleName, cause)
	fatal := &exception.BatchFatalError{
		BatchID:    batch.ID,
		Err:        cause,
		Redelivery: job.Attempt < job.MaxAttempts,
	}
	if err := batch.Fail(exception.ExtractErrorMessage(cause), fatal.Redelivery, e.now()); err != nil {
		log.Errorf("Batch cannot be marked FAILED: %v", err)
		return fatal
	}
	if err := e.batches.UpdateBatch(context.WithoutCancel(ctx), batch); err != nil {
		log.Errorf("Failed to persist FAILED batch: %v", err)
		return fatal
	}
	log.Warnf("Batch FAILED (redelivery=%t): %v", fatal.Redelivery, cause)
	e.notifyAfter(ctx, batch, model.BatchResult{}, fatal)
	e.heartbeat(ctx, batch)
	return fatal
}

func (e *Executor) infraError(msg string, job port.Job, err error) error {
	var transition *exception.InvalidTransitionError
	if errors.As(err, &transition) {
		return err
	}
	return exception.NewBatchError(moduleName, fmt.Sprintf("%s (batch %s)", msg, job.BatchID), err, false, true)
}

func (e *Executor) heartbeat(ctx context.Context, batch *model.Batch) {
	if e.progress == nil {
		return
	}
	hb := port.ProcessHeartbeat{
		ProcessID:   batch.ProcessID,
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		BatchStatus: batch.Status,
		Stored:      batch.ItemsStored,
		Failed:      batch.ItemsFailed,
		At:          e.now(),
	}
	if err := e.progress.Put(ctx, progress.ProcessKey(batch.ProcessID), hb, e.opts.HeartbeatTTL); err != nil {
		logger.Warnf("Failed to publish heartbeat of process %s: %v", batch.ProcessID, err)
	}
}

func (e *Executor) listeners() ([]port.BatchListener, []port.ItemListener) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]port.BatchListener(nil), e.batchListeners...), append([]port.ItemListener(nil), e.itemListeners...)
}

func (e *Executor) notifyBefore(ctx context.Context, batch *model.Batch) {
	bl, _ := e.listeners()
	for _, l := range bl {
		safely("BeforeBatch", func() { l.BeforeBatch(ctx, batch) })
	}
}

func (e *Executor) notifyAfter(ctx context.Context, batch *model.Batch, result model.BatchResult, err error) {
	bl, _ := e.listeners()
	for _, l := range bl {
		safely("AfterBatch", func() { l.AfterBatch(ctx, batch, result, err) })
	}
}

func (e *Executor) notifyItems(ctx context.Context, batch *model.Batch, outcomes []itemOutcome) {
	_, il := e.listeners()
	if len(il) == 0 {
		return
	}
	for _, o := range outcomes {
		for _, l := range il {
			switch {
			case o.skipped:
				safely("OnItemSkipped", func() { l.OnItemSkipped(ctx, batch, o.id) })
			case o.stored:
				safely("OnItemStored", func() { l.OnItemStored(ctx, batch, o.item) })
			default:
				safely("OnItemFailed", func() { l.OnItemFailed(ctx, batch, o.id, o.err) })
			}
		}
	}
}

func safely(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Listener %s panicked: %v\n%s", hook, r, debug.Stack())
		}
	}()
	fn()
}
