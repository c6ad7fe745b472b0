package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/caseflow/pkg/batch/component/partitioner"
	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const (
	moduleName = "process_operator"

	// seedChunkSize is the page size used to read shallow ids for an enrichment run.
	seedChunkSize = 500
)

// Options configures a DefaultProcessOperator.
type Options struct {
	// QueueName is the job queue batches are enqueued on.
	QueueName          string
	DefaultBatchSize   int
	MaxBatchSize       int
	DefaultConcurrency int
	// MaxAttempts bounds the queue deliveries of one dispatch.
	MaxAttempts int
}

// DefaultProcessOperator implements ProcessOperator and ProcessExplorer, and
// listens to batch completions to detect process completion and refill
// dispatch slots.
type DefaultProcessOperator struct {
	processes repository.Process
	batches   repository.Batch
	records   repository.Record
	source    port.SourceClient
	planner   *partitioner.Planner
	queue     port.JobQueue
	progress  port.ProgressStore
	recorder  metrics.MetricRecorder
	opts      Options

	// locks serializes mutations per process id.
	locks sync.Map

	now func() time.Time
}

var (
	_ ProcessOperator    = (*DefaultProcessOperator)(nil)
	_ ProcessExplorer    = (*DefaultProcessOperator)(nil)
	_ port.BatchListener = (*DefaultProcessOperator)(nil)
)

// NewDefaultProcessOperator creates a DefaultProcessOperator. progressStore
// and recorder may be nil.
func NewDefaultProcessOperator(
	processes repository.Process,
	batches repository.Batch,
	records repository.Record,
	source port.SourceClient,
	planner *partitioner.Planner,
	queue port.JobQueue,
	progressStore port.ProgressStore,
	recorder metrics.MetricRecorder,
	opts Options,
) *DefaultProcessOperator {
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = 100
	}
	if opts.MaxBatchSize < opts.DefaultBatchSize {
		opts.MaxBatchSize = opts.DefaultBatchSize
	}
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = 1
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &DefaultProcessOperator{
		processes: processes,
		batches:   batches,
		records:   records,
		source:    source,
		planner:   planner,
		queue:     queue,
		progress:  progressStore,
		recorder:  recorder,
		opts:      opts,
		now:       time.Now,
	}
}

func (o *DefaultProcessOperator) lock(processID string) func() {
	v, _ := o.locks.LoadOrStore(processID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create implements ProcessOperator.
func (o *DefaultProcessOperator) Create(ctx context.Context, req CreateRequest) (*model.Process, error) {
	d, ok := req.ResourceType.Descriptor()
	if !ok {
		return nil, &exception.InvalidFilterError{Key: "resource_type", Reason: fmt.Sprintf("unknown resource type %q", req.ResourceType)}
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = o.opts.DefaultBatchSize
	}
	if batchSize < 0 || batchSize > o.opts.MaxBatchSize {
		return nil, &exception.InvalidFilterError{Key: "batch_size", Reason: fmt.Sprintf("must be between 1 and %d, got %d", o.opts.MaxBatchSize, batchSize)}
	}
	concurrency := req.ConcurrencyLimit
	if concurrency == 0 {
		concurrency = o.opts.DefaultConcurrency
	}
	if concurrency < 0 {
		return nil, &exception.InvalidFilterError{Key: "concurrency_limit", Reason: fmt.Sprintf("must be positive, got %d", concurrency)}
	}
	filters, err := ValidateFilters(d, req.Filters)
	if err != nil {
		return nil, err
	}

	ids := dedupe(req.ItemIDs)
	if d.Enrichment && len(ids) == 0 {
		if ids, err = o.seedIDs(ctx, d.ShallowOf); err != nil {
			return nil, err
		}
		logger.Infof("Seeded %d %s ids from %s.", len(ids), d.Type, d.ShallowOf)
	}

	var count int64
	if len(ids) > 0 || d.Enrichment {
		count = int64(len(ids))
	} else {
		res, err := o.source.Search(ctx, d.Type, filters, 1, 1)
		if err != nil {
			return nil, err
		}
		count = res.TotalCount
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s %s", d.Type, o.now().UTC().Format(time.RFC3339))
	}
	p := model.NewProcess(name, d.Type, filters, ids, batchSize, concurrency, count)
	if err := o.processes.SaveProcess(ctx, p); err != nil {
		return nil, err
	}
	batches, err := o.planner.PlanAndSave(ctx, p, count)
	if err != nil {
		o.abandon(ctx, p, err)
		return nil, err
	}
	if len(batches) == 0 {
		if err := o.markCompleted(ctx, p); err != nil {
			return nil, err
		}
	} else {
		o.recorder.RecordProcessStatus(ctx, p)
	}
	logger.Infof("Process '%s' (ID: %s) created: %s, %d items in %d batches.", p.Name, p.ID, p.ResourceType, p.TotalItems, len(batches))
	return p, nil
}

// ValidateFilters checks filters against the keys the source accepts for d
// and returns a trimmed copy.
func ValidateFilters(d model.ResourceDescriptor, filters model.Filters) (model.Filters, error) {
	out := model.Filters{}
	if len(filters) == 0 {
		return out, nil
	}
	if len(d.AllowedFilters) == 0 {
		return nil, &exception.InvalidFilterError{Reason: fmt.Sprintf("%s does not accept filters", d.Type)}
	}
	allowed := make(map[string]bool, len(d.AllowedFilters))
	for _, k := range d.AllowedFilters {
		allowed[k] = true
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.TrimSpace(k)
		if !allowed[key] {
			return nil, &exception.InvalidFilterError{Key: k, Reason: fmt.Sprintf("not supported for %s (allowed: %s)", d.Type, strings.Join(d.AllowedFilters, ", "))}
		}
		v := strings.TrimSpace(filters[k])
		if v == "" {
			return nil, &exception.InvalidFilterError{Key: k, Reason: "value must not be empty"}
		}
		out[key] = v
	}
	return out, nil
}

func (o *DefaultProcessOperator) seedIDs(ctx context.Context, shallow model.ResourceType) ([]string, error) {
	var ids []string
	var after int64
	for {
		chunk, err := o.records.ListRecordChunk(ctx, shallow, repository.RecordFilter{}, after, seedChunkSize)
		if err != nil {
			return nil, err
		}
		for _, rec := range chunk {
			ids = append(ids, rec.NaturalID)
			after = rec.ID
		}
		if len(chunk) < seedChunkSize {
			return ids, nil
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Pause implements ProcessOperator.
func (o *DefaultProcessOperator) Pause(ctx context.Context, processID string) error {
	unlock := o.lock(processID)
	defer unlock()

	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return err
	}
	if p.Status.IsFinished() {
		return &exception.InvalidTransitionError{Entity: "process", ID: p.ID, From: string(p.Status), To: "PAUSED"}
	}
	if p.IsPaused() {
		return nil
	}
	now := o.now()
	p.PausedAt = &now
	if err := o.processes.UpdateProcess(ctx, p); err != nil {
		return err
	}
	logger.Infof("Process %s paused; batches in flight run to completion.", p.ID)
	return nil
}

// Resume implements ProcessOperator.
func (o *DefaultProcessOperator) Resume(ctx context.Context, processID string) error {
	unlock := o.lock(processID)
	defer unlock()

	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return err
	}
	if p.Status.IsFinished() {
		return &exception.InvalidTransitionError{Entity: "process", ID: p.ID, From: string(p.Status), To: string(model.ProcessInProgress)}
	}
	if p.IsPaused() {
		p.PausedAt = nil
		if err := o.processes.UpdateProcess(ctx, p); err != nil {
			return err
		}
		logger.Infof("Process %s resumed.", p.ID)
	}
	_, err = o.dispatchLocked(ctx, p)
	return err
}

// Cancel implements ProcessOperator.
func (o *DefaultProcessOperator) Cancel(ctx context.Context, processID string) error {
	unlock := o.lock(processID)
	defer unlock()

	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return err
	}
	if err := p.MarkCancelled(o.now()); err != nil {
		return err
	}
	if err := o.processes.UpdateProcess(ctx, p); err != nil {
		return err
	}
	o.recorder.RecordProcessStatus(ctx, p)
	logger.Infof("Process %s cancelled.", p.ID)
	return nil
}

// RetryFailedBatches implements ProcessOperator.
func (o *DefaultProcessOperator) RetryFailedBatches(ctx context.Context, processID string) (int, error) {
	unlock := o.lock(processID)
	defer unlock()

	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return 0, err
	}
	batches, err := o.batches.FindBatchesByProcessID(ctx, processID)
	if err != nil {
		return 0, err
	}
	var failed []*model.Batch
	for _, b := range batches {
		if b.Status == model.BatchFailed {
			failed = append(failed, b)
		}
	}
	if len(failed) == 0 {
		return 0, nil
	}
	if p.Status.IsTerminal() {
		return 0, &exception.InvalidTransitionError{Entity: "process", ID: p.ID, From: string(p.Status), To: string(model.ProcessInProgress)}
	}

	// Validate before any batch is touched.
	for _, b := range failed {
		if !b.ClaimableBy(b.Attempts + 1) {
			return 0, &exception.InvalidTransitionError{Entity: "batch", ID: b.ID, From: string(b.Status), To: string(model.BatchPending)}
		}
	}
	if p.Status == model.ProcessCompleted {
		if err := p.Reopen(); err != nil {
			return 0, err
		}
		if err := o.processes.UpdateProcess(ctx, p); err != nil {
			return 0, err
		}
		o.recorder.RecordProcessStatus(ctx, p)
		logger.Infof("Process %s reopened to retry %d failed batches.", p.ID, len(failed))
	}

	for _, b := range failed {
		if err := b.ResetForRetry(); err != nil {
			return 0, err
		}
		if err := o.batches.UpdateBatch(ctx, b); err != nil {
			return 0, err
		}
	}
	logger.Infof("Process %s: %d failed batches reset to PENDING.", p.ID, len(failed))
	if _, err := o.dispatchLocked(ctx, p); err != nil {
		return len(failed), err
	}
	return len(failed), nil
}

// Restart implements ProcessOperator. It is rejected while a batch is running.
func (o *DefaultProcessOperator) Restart(ctx context.Context, processID string) error {
	unlock := o.lock(processID)
	defer unlock()

	p, err := o.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return err
	}
	batches, err := o.batches.FindBatchesByProcessID(ctx, processID)
	if err != nil {
		return err
	}
	for _, b := range batches {
		if b.Status == model.BatchInProgress {
			return &exception.InvalidTransitionError{Entity: "process", ID: p.ID, From: string(p.Status), To: string(model.ProcessPending)}
		}
	}

	if err := o.records.TruncateRecords(ctx, p.ResourceType); err != nil {
		return err
	}
	for _, b := range batches {
		b.Reset()
		if err := o.batches.UpdateBatch(ctx, b); err != nil {
			return err
		}
	}
	p.ResetForRestart()
	if err := o.processes.UpdateProcess(ctx, p); err != nil {
		return err
	}
	o.recorder.RecordProcessStatus(ctx, p)
	logger.Infof("Process %s restarted: %s table truncated, %d batches reset.", p.ID, p.ResourceType, len(batches))

	if len(batches) == 0 {
		return o.markCompleted(ctx, p)
	}
	_, err = o.dispatchLocked(ctx, p)
	return err
}

// ListProcesses implements ProcessExplorer.
func (o *DefaultProcessOperator) ListProcesses(ctx context.Context, statuses ...model.ProcessStatus) ([]*model.Process, error) {
	return o.processes.FindProcessesByStatus(ctx, statuses...)
}

// abandon marks a process that could not be planned FAILED so it is not
// left PENDING without batches.
func (o *DefaultProcessOperator) abandon(ctx context.Context, p *model.Process, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := p.MarkFailed(fmt.Sprintf("planning failed: %s", exception.ExtractErrorMessage(cause)), o.now()); err != nil {
		logger.Errorf("Process %s cannot be marked FAILED: %v", p.ID, err)
		return
	}
	if err := o.processes.UpdateProcess(ctx, p); err != nil {
		logger.Errorf("Failed to persist FAILED process %s: %v", p.ID, err)
		return
	}
	o.recorder.RecordProcessStatus(ctx, p)
	logger.Warnf("Process %s FAILED during planning: %v", p.ID, cause)
}

func (o *DefaultProcessOperator) markCompleted(ctx context.Context, p *model.Process) error {
	if err := p.MarkCompleted(o.now()); err != nil {
		return err
	}
	if err := o.processes.UpdateProcess(ctx, p); err != nil {
		return err
	}
	o.recorder.RecordProcessStatus(ctx, p)
	logger.Infof("Process %s COMPLETED.", p.ID)
	return nil
}
