package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/progress"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// StaleRun is a verification run that stopped publishing heartbeats.
type StaleRun struct {
	Progress
	// Silence is the time since the last heartbeat.
	Silence time.Duration `json:"silence"`
}

// Watchdog finds verification runs left behind by a crashed or stopped
// worker by inspecting the heartbeats in the progress store.
type Watchdog struct {
	engine      *Engine
	store       port.ProgressStore
	staleAfter  time.Duration
	autoRecover bool
	now         func() time.Time
}

// NewWatchdog creates a Watchdog. Runs silent for longer than staleAfter are stale.
func NewWatchdog(engine *Engine, store port.ProgressStore, staleAfter time.Duration, autoRecover bool) *Watchdog {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Watchdog{engine: engine, store: store, staleAfter: staleAfter, autoRecover: autoRecover, now: time.Now}
}

// Scan lists stale runs: running entries whose heartbeat is older than the
// threshold, and interrupted entries. Runs executing in this process are skipped.
func (w *Watchdog) Scan(ctx context.Context) ([]StaleRun, error) {
	keys, err := w.store.Keys(ctx, progress.VerificationPrefix)
	if err != nil {
		return nil, err
	}
	now := w.now()
	var stale []StaleRun
	for _, key := range keys {
		runID, ok := progress.RunIDFromKey(key)
		if !ok || w.engine.IsActive(runID) {
			continue
		}
		var prog Progress
		found, err := w.store.Get(ctx, key, &prog)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		silence := now.Sub(prog.HeartbeatAt)
		switch {
		case prog.Status == RunInterrupted:
		case prog.Status == RunRunning && silence > w.staleAfter:
		default:
			continue
		}
		stale = append(stale, StaleRun{Progress: prog, Silence: silence})
	}
	return stale, nil
}

// Recover starts a new run over the process of a stale run and marks the
// stale entry as recovered. mode full restarts the verification, continue
// evaluates only what the stale run left unverified.
func (w *Watchdog) Recover(ctx context.Context, runID string, mode model.VerificationMode) (string, error) {
	if mode == "" {
		mode = model.VerificationContinue
	}
	if w.engine.IsActive(runID) {
		return "", &exception.InvalidTransitionError{Entity: "verification", ID: runID, From: RunRunning, To: RunRecovered}
	}
	old, err := w.engine.Status(ctx, runID)
	if err != nil {
		return "", err
	}
	if old.Status == RunCompleted || old.Status == RunRecovered {
		return "", &exception.InvalidTransitionError{Entity: "verification", ID: runID, From: old.Status, To: RunRecovered}
	}

	newID, err := w.engine.Start(ctx, old.ProcessID, mode)
	if err != nil {
		return "", err
	}
	now := w.now()
	old.Status = RunRecovered
	old.RecoveredBy = newID
	old.FinishedAt = &now
	if err := w.store.Put(ctx, progress.VerificationKey(runID), old, w.engine.opts.ProgressTTL); err != nil {
		logger.Warnf("Failed to mark verification %s as recovered by %s: %v", runID, newID, err)
	}
	logger.Infof("Verification %s of process %s recovered by run %s (%s).", runID, old.ProcessID, newID, mode)
	return newID, nil
}

// Run is one watchdog pass. It logs stale runs and continues them when
// auto recovery is enabled.
func (w *Watchdog) Run(ctx context.Context) error {
	stale, err := w.Scan(ctx)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	var result *multierror.Error
	for _, s := range stale {
		logger.Warnf("Verification %s of process %s is %s, last heartbeat %s ago at %d/%d records.",
			s.RunID, s.ProcessID, s.Status, s.Silence.Round(time.Second), s.Processed, s.Total)
		if !w.autoRecover {
			continue
		}
		if _, err := w.Recover(ctx, s.RunID, model.VerificationContinue); err != nil {
			result = multierror.Append(result, fmt.Errorf("recover %s: %w", s.RunID, err))
		}
	}
	return result.ErrorOrNil()
}
