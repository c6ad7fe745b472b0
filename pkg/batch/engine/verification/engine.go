// Package verification re-checks stored records against the source system
// and publishes run progress to the progress store.
package verification

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/progress"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const moduleName = "verification"

// Run statuses published in Progress.Status.
const (
	RunRunning     = "running"
	RunCompleted   = "completed"
	RunFailed      = "failed"
	RunInterrupted = "interrupted"
	// RunRecovered marks a stale run that was superseded by a new one.
	RunRecovered = "recovered"
)

// Options tunes an Engine.
type Options struct {
	ChunkSize       int
	ProgressEvery   int
	ProgressTTL     time.Duration
	QuickSampleSize int
}

// Progress is the observable state of a verification run.
type Progress struct {
	RunID        string                 `json:"run_id"`
	ProcessID    string                 `json:"process_id"`
	ResourceType model.ResourceType     `json:"resource_type"`
	Mode         model.VerificationMode `json:"mode"`
	Status       string                 `json:"status"`
	// Total is every record of the process. In continue mode the records
	// already VERIFIED are counted in Processed, Verified and AlreadyVerified upfront.
	Total           int64      `json:"total"`
	Processed       int64      `json:"processed"`
	Verified        int64      `json:"verified"`
	Failed          int64      `json:"failed"`
	AlreadyVerified int64      `json:"already_verified"`
	CurrentActivity string     `json:"current_activity"`
	Error           string     `json:"error,omitempty"`
	RecoveredBy     string     `json:"recovered_by,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	HeartbeatAt     time.Time  `json:"heartbeat_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// QuickResult is the sampled verdict of one resource type.
type QuickResult struct {
	TotalChecked int     `json:"total_checked"`
	Verified     int     `json:"verified"`
	SuccessRate  float64 `json:"success_rate"`
	// Status is no_data, verified or issues_found.
	Status string `json:"status"`
}

// Engine verifies the records of processes.
type Engine struct {
	processes repository.Process
	records   repository.Record
	source    port.SourceClient
	store     port.ProgressStore
	tracer    metrics.Tracer
	opts      Options

	mu        sync.Mutex
	listeners []port.VerificationListener
	active    map[string]context.CancelFunc

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

// NewEngine creates an Engine. Runs started with Start live until Stop.
func NewEngine(processes repository.Process, records repository.Record, source port.SourceClient, store port.ProgressStore, tracer metrics.Tracer, opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 50
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	if opts.ProgressTTL <= 0 {
		opts.ProgressTTL = time.Hour
	}
	if opts.QuickSampleSize <= 0 {
		opts.QuickSampleSize = 10
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		processes: processes,
		records:   records,
		source:    source,
		store:     store,
		tracer:    tracer,
		opts:      opts,
		active:    make(map[string]context.CancelFunc),
		baseCtx:   ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// RegisterListener adds l to the listeners notified of verdicts and finished runs.
func (e *Engine) RegisterListener(l port.VerificationListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// VerifyRecord compares rec with the source entity of the same natural id
// and sets its verdict, verified_at and verification_error. It never fails
// and never touches the business fields of rec.
func (e *Engine) VerifyRecord(ctx context.Context, rt model.ResourceType, rec *model.Record) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Verification of %s %s panicked: %v\n%s", rt, rec.NaturalID, r, debug.Stack())
			setVerdict(rec, e.now(), fmt.Sprintf("verification panicked: %v", r))
			ok = false
		}
	}()

	d, known := rt.Descriptor()
	if !known {
		setVerdict(rec, e.now(), fmt.Sprintf("unknown resource type %q", rt))
		return false
	}
	item, err := e.source.FetchByID(ctx, rt, rec.NaturalID)
	if err != nil {
		reason := "source fetch failed: " + exception.ExtractErrorMessage(err)
		if errors.Is(err, exception.ErrNotFound) {
			reason = "record not found in source"
		}
		setVerdict(rec, e.now(), reason)
		return false
	}

	mismatches := Compare(d.VerifiedFields, rec.Fields, item.Fields)
	setVerdict(rec, e.now(), strings.Join(mismatches, "; "))
	return len(mismatches) == 0
}

// Compare lists the fields whose stored and source values differ.
func Compare(fields []string, stored, source model.Fields) []string {
	var out []string
	for _, f := range fields {
		want, got := source.String(f), stored.String(f)
		if want != got {
			out = append(out, fmt.Sprintf("%s: stored %q, source %q", f, got, want))
		}
	}
	return out
}

func setVerdict(rec *model.Record, now time.Time, reason string) {
	rec.VerifiedAt = &now
	if reason == "" {
		rec.VerificationStatus = model.VerificationVerified
		rec.VerificationError = nil
		return
	}
	rec.VerificationStatus = model.VerificationFailed
	rec.VerificationError = &reason
}

// Start launches a verification run of the process in the background and
// returns its run id. The first progress entry is published before Start returns.
func (e *Engine) Start(ctx context.Context, processID string, mode model.VerificationMode) (string, error) {
	if mode == "" {
		mode = model.VerificationContinue
	}
	if !mode.Valid() {
		return "", &exception.InvalidFilterError{Key: "mode", Reason: fmt.Sprintf("must be %s or %s, got %q", model.VerificationFull, model.VerificationContinue, mode)}
	}
	p, err := e.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(e.baseCtx)
	e.mu.Lock()
	e.active[runID] = cancel
	e.mu.Unlock()

	prog, err := e.prepare(ctx, runID, p, mode)
	if err != nil {
		e.finishActive(runID)
		return "", err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.finishActive(runID)
		e.run(runCtx, p, prog)
	}()
	return runID, nil
}

// Run verifies the process synchronously and returns the final progress.
func (e *Engine) Run(ctx context.Context, processID string, mode model.VerificationMode) (*Progress, error) {
	if mode == "" {
		mode = model.VerificationContinue
	}
	if !mode.Valid() {
		return nil, &exception.InvalidFilterError{Key: "mode", Reason: fmt.Sprintf("unknown verification mode %q", mode)}
	}
	p, err := e.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return nil, err
	}
	prog, err := e.prepare(ctx, uuid.New().String(), p, mode)
	if err != nil {
		return nil, err
	}
	e.run(ctx, p, prog)
	return prog, nil
}

// prepare resets records for a full run, counts them and publishes the initial progress.
func (e *Engine) prepare(ctx context.Context, runID string, p *model.Process, mode model.VerificationMode) (*Progress, error) {
	rt := p.ResourceType
	if mode == model.VerificationFull {
		n, err := e.records.ResetVerification(ctx, rt, p.ID)
		if err != nil {
			return nil, err
		}
		logger.Infof("Verification %s: reset %d %s records to PENDING.", runID, n, rt)
	}
	total, err := e.records.CountRecords(ctx, rt, repository.RecordFilter{ProcessID: p.ID})
	if err != nil {
		return nil, err
	}
	now := e.now()
	prog := &Progress{
		RunID:           runID,
		ProcessID:       p.ID,
		ResourceType:    rt,
		Mode:            mode,
		Status:          RunRunning,
		Total:           total,
		CurrentActivity: "starting",
		StartedAt:       now,
		HeartbeatAt:     now,
	}
	if mode == model.VerificationContinue {
		done, err := e.records.CountRecords(ctx, rt, repository.RecordFilter{
			ProcessID: p.ID,
			Statuses:  []model.VerificationStatus{model.VerificationVerified},
		})
		if err != nil {
			return nil, err
		}
		prog.AlreadyVerified = done
		prog.Processed = done
		prog.Verified = done
	}
	if err := e.publish(ctx, prog); err != nil {
		return nil, err
	}
	return prog, nil
}

func (e *Engine) run(ctx context.Context, p *model.Process, prog *Progress) {
	ctx, end := e.tracer.StartVerificationSpan(ctx, prog.RunID, p.ID)
	defer end()
	log := logger.With("run_id", prog.RunID, "process_id", p.ID, "mode", prog.Mode)
	log.Infof("Verification started: %d records, %d already verified.", prog.Total, prog.AlreadyVerified)

	rt := p.ResourceType
	filter := repository.RecordFilter{ProcessID: p.ID}
	if prog.Mode == model.VerificationContinue {
		filter.Statuses = []model.VerificationStatus{model.VerificationPending, model.VerificationFailed}
	}

	var errs *multierror.Error
	var after int64
	chunkNo := 0
	sinceLast := 0
	for {
		if ctx.Err() != nil {
			e.finish(prog, RunInterrupted, "run stopped before completion", log)
			return
		}
		chunk, err := e.records.ListRecordChunk(ctx, rt, filter, after, e.opts.ChunkSize)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("list chunk after id %d: %w", after, err))
			e.tracer.RecordError(ctx, moduleName, err)
			e.finish(prog, RunFailed, errs.Error(), log)
			return
		}
		if len(chunk) == 0 {
			break
		}
		chunkNo++
		for _, rec := range chunk {
			if ctx.Err() != nil {
				e.finish(prog, RunInterrupted, "run stopped before completion", log)
				return
			}
			after = rec.ID
			prog.CurrentActivity = fmt.Sprintf("chunk %d: %s %s", chunkNo, rt, rec.NaturalID)
			ok := e.VerifyRecord(ctx, rt, rec)
			if err := e.records.UpdateVerification(ctx, rt, rec); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("record %s: %w", rec.NaturalID, err))
			}
			prog.Processed++
			if ok {
				prog.Verified++
			} else {
				prog.Failed++
			}
			e.notifyRecord(ctx, rt, rec, ok)

			sinceLast++
			if sinceLast >= e.opts.ProgressEvery {
				sinceLast = 0
				e.heartbeat(ctx, prog)
			}
		}
		prog.CurrentActivity = fmt.Sprintf("chunk %d done", chunkNo)
		sinceLast = 0
		e.heartbeat(ctx, prog)
		if len(chunk) < e.opts.ChunkSize {
			break
		}
	}

	msg := ""
	if err := errs.ErrorOrNil(); err != nil {
		msg = err.Error()
		e.tracer.RecordError(ctx, moduleName, err)
	}
	e.finish(prog, RunCompleted, msg, log)
}

func (e *Engine) finish(prog *Progress, status, msg string, log *logger.Scoped) {
	now := e.now()
	prog.Status = status
	prog.Error = msg
	prog.FinishedAt = &now
	prog.CurrentActivity = status
	// The final entry is written even when the run context was cancelled.
	if err := e.publish(context.Background(), prog); err != nil {
		log.Errorf("Failed to publish final progress: %v", err)
	}
	if status == RunCompleted {
		log.Infof("Verification completed: %d processed, %d verified, %d failed.", prog.Processed, prog.Verified, prog.Failed)
	} else {
		log.Warnf("Verification %s after %d of %d records: %s", status, prog.Processed, prog.Total, msg)
	}
	e.notifyRun(prog.RunID, status)
}

func (e *Engine) heartbeat(ctx context.Context, prog *Progress) {
	if err := e.publish(ctx, prog); err != nil {
		logger.Warnf("Verification %s: failed to publish progress: %v", prog.RunID, err)
	}
}

func (e *Engine) publish(ctx context.Context, prog *Progress) error {
	prog.HeartbeatAt = e.now()
	return e.store.Put(ctx, progress.VerificationKey(prog.RunID), prog, e.opts.ProgressTTL)
}

// Status returns the progress of a run. Expired or unknown runs are ErrNotFound.
func (e *Engine) Status(ctx context.Context, runID string) (*Progress, error) {
	var prog Progress
	ok, err := e.store.Get(ctx, progress.VerificationKey(runID), &prog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("verification run %s: %w", runID, exception.ErrNotFound)
	}
	return &prog, nil
}

// QuickVerify checks a random sample of the process's records against the
// source without persisting any verdict.
func (e *Engine) QuickVerify(ctx context.Context, processID string, sampleSize int) (map[model.ResourceType]QuickResult, error) {
	if sampleSize <= 0 {
		sampleSize = e.opts.QuickSampleSize
	}
	p, err := e.processes.FindProcessByID(ctx, processID)
	if err != nil {
		return nil, err
	}
	rt := p.ResourceType
	sample, err := e.records.SampleRecords(ctx, rt, p.ID, sampleSize)
	if err != nil {
		return nil, err
	}

	res := QuickResult{Status: "no_data"}
	for _, rec := range sample {
		cp := *rec
		res.TotalChecked++
		if e.VerifyRecord(ctx, rt, &cp) {
			res.Verified++
		}
	}
	if res.TotalChecked > 0 {
		res.SuccessRate = roundPercent(res.Verified, res.TotalChecked)
		res.Status = "verified"
		if res.Verified < res.TotalChecked {
			res.Status = "issues_found"
		}
	}
	return map[model.ResourceType]QuickResult{rt: res}, nil
}

func roundPercent(part, whole int) float64 {
	return float64(int64(float64(part)/float64(whole)*10000+0.5)) / 100
}

// IsActive reports whether the run is executing in this process.
func (e *Engine) IsActive(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[runID]
	return ok
}

// ActiveRuns returns the ids of the runs executing in this process.
func (e *Engine) ActiveRuns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) finishActive(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.active[runID]; ok {
		cancel()
		delete(e.active, runID)
	}
}

// Wait blocks until every background run finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels background runs and waits for them to publish their final state.
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()
	return e.Wait(ctx)
}

func (e *Engine) snapshotListeners() []port.VerificationListener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]port.VerificationListener(nil), e.listeners...)
}

func (e *Engine) notifyRecord(ctx context.Context, rt model.ResourceType, rec *model.Record, ok bool) {
	for _, l := range e.snapshotListeners() {
		safely(func() { l.OnRecordVerified(ctx, rt, rec, ok) })
	}
}

func (e *Engine) notifyRun(runID, status string) {
	for _, l := range e.snapshotListeners() {
		safely(func() { l.OnRunFinished(context.Background(), runID, status) })
	}
}

func safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Verification listener panicked: %v", r)
		}
	}()
	fn()
}
