package metrics

import (
	"context"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing.
type Tracer interface {
	// StartBatchSpan starts a span for one executor invocation. The returned
	// function ends the span.
	StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func())

	// StartVerificationSpan starts a span for one verification run.
	StartVerificationSpan(ctx context.Context, runID, processID string) (context.Context, func())

	// RecordError records an error in the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
