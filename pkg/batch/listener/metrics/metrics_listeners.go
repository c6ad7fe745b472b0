// Package metrics records batch, item and verification outcomes through the
// configured MetricRecorder.
package metrics

import (
	"context"
	"time"

	port "github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/metrics"
)

// --- Batch Listener ---

type MetricsBatchListener struct {
	recorder metrics.MetricRecorder
	now      func() time.Time
}

func NewMetricsBatchListener(recorder metrics.MetricRecorder) *MetricsBatchListener {
	return &MetricsBatchListener{recorder: recorder, now: time.Now}
}

func (l *MetricsBatchListener) BeforeBatch(ctx context.Context, batch *model.Batch) {
	l.recorder.RecordBatchStart(ctx, batch)
}

func (l *MetricsBatchListener) AfterBatch(ctx context.Context, batch *model.Batch, result model.BatchResult, err error) {
	var d time.Duration
	if batch.StartedAt != nil {
		end := l.now()
		if batch.CompletedAt != nil {
			end = *batch.CompletedAt
		}
		d = end.Sub(*batch.StartedAt)
	}
	l.recorder.RecordBatchEnd(ctx, batch, d)
}

var _ port.BatchListener = (*MetricsBatchListener)(nil)

// --- Item Listener ---

type MetricsItemListener struct {
	recorder metrics.MetricRecorder
}

func NewMetricsItemListener(recorder metrics.MetricRecorder) *MetricsItemListener {
	return &MetricsItemListener{recorder: recorder}
}

func (l *MetricsItemListener) OnItemStored(ctx context.Context, batch *model.Batch, item *model.Item) {
	l.recorder.RecordItem(ctx, batch.ResourceType, metrics.OutcomeStored)
}

func (l *MetricsItemListener) OnItemFailed(ctx context.Context, batch *model.Batch, itemID string, err error) {
	l.recorder.RecordItem(ctx, batch.ResourceType, metrics.OutcomeFailed)
}

func (l *MetricsItemListener) OnItemSkipped(ctx context.Context, batch *model.Batch, itemID string) {
	l.recorder.RecordItem(ctx, batch.ResourceType, metrics.OutcomeSkipped)
}

var _ port.ItemListener = (*MetricsItemListener)(nil)

// --- Verification Listener ---

type MetricsVerificationListener struct {
	recorder metrics.MetricRecorder
}

func NewMetricsVerificationListener(recorder metrics.MetricRecorder) *MetricsVerificationListener {
	return &MetricsVerificationListener{recorder: recorder}
}

func (l *MetricsVerificationListener) OnRecordVerified(ctx context.Context, rt model.ResourceType, rec *model.Record, ok bool) {
	l.recorder.RecordVerification(ctx, rt, ok)
}

func (l *MetricsVerificationListener) OnRunFinished(ctx context.Context, runID string, status string) {}

var _ port.VerificationListener = (*MetricsVerificationListener)(nil)
