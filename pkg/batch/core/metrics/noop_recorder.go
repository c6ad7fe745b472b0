package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder that does nothing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {}
func (r *NoOpMetricRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordItem(ctx context.Context, rt model.ResourceType, outcome string) {}
func (r *NoOpMetricRecorder) RecordVerification(ctx context.Context, rt model.ResourceType, verified bool) {
}
func (r *NoOpMetricRecorder) RecordProcessStatus(ctx context.Context, process *model.Process) {}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer is a Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartVerificationSpan(ctx context.Context, runID, processID string) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
