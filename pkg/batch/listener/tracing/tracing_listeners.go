// Package tracing annotates the active span with batch outcomes.
package tracing

import (
	"context"
	"fmt"

	port "github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/metrics"
)

// TracingBatchListener records batch outcomes as events of the batch span
// opened by the executor.
type TracingBatchListener struct {
	tracer metrics.Tracer
}

func NewTracingBatchListener(tracer metrics.Tracer) *TracingBatchListener {
	return &TracingBatchListener{tracer: tracer}
}

func (l *TracingBatchListener) BeforeBatch(ctx context.Context, batch *model.Batch) {
	l.tracer.RecordEvent(ctx, "batch.claimed", map[string]interface{}{
		"batch.number":   batch.BatchNumber,
		"batch.attempts": batch.Attempts,
	})
}

func (l *TracingBatchListener) AfterBatch(ctx context.Context, batch *model.Batch, result model.BatchResult, err error) {
	if err != nil {
		l.tracer.RecordError(ctx, "executor", err)
	}
	l.tracer.RecordEvent(ctx, "batch.finished", map[string]interface{}{
		"batch.status":   string(batch.Status),
		"items.received": result.Received,
		"items.stored":   result.Processed,
		"items.failed":   result.Failed,
		"items.skipped":  result.Skipped,
	})
}

var _ port.BatchListener = (*TracingBatchListener)(nil)

// TracingItemListener records item failures on the batch span.
type TracingItemListener struct {
	tracer metrics.Tracer
}

func NewTracingItemListener(tracer metrics.Tracer) *TracingItemListener {
	return &TracingItemListener{tracer: tracer}
}

func (l *TracingItemListener) OnItemStored(ctx context.Context, batch *model.Batch, item *model.Item) {}

func (l *TracingItemListener) OnItemFailed(ctx context.Context, batch *model.Batch, itemID string, err error) {
	l.tracer.RecordEvent(ctx, "item.failed", map[string]interface{}{"item.id": itemID, "error": fmt.Sprint(err)})
}

func (l *TracingItemListener) OnItemSkipped(ctx context.Context, batch *model.Batch, itemID string) {}

var _ port.ItemListener = (*TracingItemListener)(nil)
