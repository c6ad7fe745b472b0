package metrics_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/listener/metrics"
)

type fakeRecorder struct {
	coremetrics.NoOpMetricRecorder
	mu        sync.Mutex
	items     map[string]int
	verified  map[bool]int
	durations []time.Duration
	starts    int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{items: map[string]int{}, verified: map[bool]int{}}
}

func (r *fakeRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *fakeRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = append(r.durations, d)
}

func (r *fakeRecorder) RecordItem(ctx context.Context, rt model.ResourceType, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[outcome]++
}

func (r *fakeRecorder) RecordVerification(ctx context.Context, rt model.ResourceType, verified bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified[verified]++
}

func TestListenersForwardThroughAsyncRecorder(t *testing.T) {
	backend := newFakeRecorder()
	async := metrics.NewAsyncMetricRecorder(16, backend)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	batch := &model.Batch{ID: "b1", ResourceType: model.ResourceCase, StartedAt: &started, CompletedAt: &completed}

	bl := metrics.NewMetricsBatchListener(async)
	bl.BeforeBatch(ctx, batch)
	bl.AfterBatch(ctx, batch, model.BatchResult{}, nil)

	il := metrics.NewMetricsItemListener(async)
	il.OnItemStored(ctx, batch, &model.Item{ID: "K-1"})
	il.OnItemStored(ctx, batch, &model.Item{ID: "K-2"})
	il.OnItemFailed(ctx, batch, "K-3", errors.New("boom"))
	il.OnItemSkipped(ctx, batch, "K-4")

	vl := metrics.NewMetricsVerificationListener(async)
	vl.OnRecordVerified(ctx, model.ResourceCase, &model.Record{}, true)
	vl.OnRecordVerified(ctx, model.ResourceCase, &model.Record{}, false)

	async.Close()
	async.Close()

	assert.Equal(t, 1, backend.starts)
	assert.Equal(t, []time.Duration{90 * time.Second}, backend.durations)
	assert.Equal(t, map[string]int{coremetrics.OutcomeStored: 2, coremetrics.OutcomeFailed: 1, coremetrics.OutcomeSkipped: 1}, backend.items)
	assert.Equal(t, map[bool]int{true: 1, false: 1}, backend.verified)
}

func TestAsyncRecorderDropsWhenFull(t *testing.T) {
	backend := newFakeRecorder()
	async := metrics.NewAsyncMetricRecorder(1, backend)
	for i := 0; i < 1000; i++ {
		async.RecordItem(context.Background(), model.ResourceClient, coremetrics.OutcomeStored)
	}
	async.Close()
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.LessOrEqual(t, backend.items[coremetrics.OutcomeStored], 1000)
	assert.Greater(t, backend.items[coremetrics.OutcomeStored], 0)
}
