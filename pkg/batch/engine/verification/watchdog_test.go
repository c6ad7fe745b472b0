package verification_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/engine/verification"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/progress"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

func (f *fixture) seedRun(t *testing.T, runID, status string, heartbeat time.Time) {
	t.Helper()
	prog := verification.Progress{
		RunID:        runID,
		ProcessID:    f.process.ID,
		ResourceType: rt,
		Mode:         model.VerificationFull,
		Status:       status,
		Total:        10,
		Processed:    4,
		StartedAt:    heartbeat.Add(-time.Minute),
		HeartbeatAt:  heartbeat,
	}
	require.NoError(t, f.store.Put(context.Background(), progress.VerificationKey(runID), prog, time.Hour))
}

func TestWatchdogScan(t *testing.T) {
	f := newFixture(t, 10)
	now := time.Now()
	f.seedRun(t, "stale", verification.RunRunning, now.Add(-10*time.Minute))
	f.seedRun(t, "fresh", verification.RunRunning, now.Add(-10*time.Second))
	f.seedRun(t, "stopped", verification.RunInterrupted, now.Add(-10*time.Second))
	f.seedRun(t, "done", verification.RunCompleted, now.Add(-time.Hour))
	require.NoError(t, f.store.Put(context.Background(), progress.ProcessKey(f.process.ID), map[string]string{}, time.Hour))

	w := verification.NewWatchdog(f.engine, f.store, 5*time.Minute, false)
	stale, err := w.Scan(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, s := range stale {
		ids = append(ids, s.RunID)
	}
	assert.ElementsMatch(t, []string{"stale", "stopped"}, ids)
	for _, s := range stale {
		if s.RunID == "stale" {
			assert.Greater(t, s.Silence, 5*time.Minute)
		}
	}

	require.NoError(t, w.Run(context.Background()), "report-only pass")
	prog, err := f.engine.Status(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, verification.RunRunning, prog.Status)
}

func TestWatchdogRecoverContinuesRun(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.seedRun(t, "stale", verification.RunRunning, time.Now().Add(-time.Hour))

	w := verification.NewWatchdog(f.engine, f.store, time.Minute, false)
	newID, err := w.Recover(ctx, "stale", model.VerificationContinue)
	require.NoError(t, err)
	require.NotEqual(t, "stale", newID)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Wait(waitCtx))

	old, err := f.engine.Status(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, verification.RunRecovered, old.Status)
	assert.Equal(t, newID, old.RecoveredBy)

	run, err := f.engine.Status(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, verification.RunCompleted, run.Status)
	assert.Equal(t, model.VerificationContinue, run.Mode)
	assert.EqualValues(t, 10, run.Verified)

	stale, err := w.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = w.Recover(ctx, "stale", model.VerificationContinue)
	assert.Equal(t, "invalid_transition", exception.Kind(err))
}

func TestWatchdogAutoRecover(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.seedRun(t, "stopped", verification.RunInterrupted, time.Now())

	w := verification.NewWatchdog(f.engine, f.store, time.Minute, true)
	require.NoError(t, w.Run(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Wait(waitCtx))

	old, err := f.engine.Status(ctx, "stopped")
	require.NoError(t, err)
	assert.Equal(t, verification.RunRecovered, old.Status)
	assert.EqualValues(t, 3, f.count(t, model.VerificationVerified))
}
