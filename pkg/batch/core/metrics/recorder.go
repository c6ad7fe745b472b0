// Package metrics abstracts metric collection and tracing so the engine does
// not depend on a particular backend.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
)

// Item outcome labels.
const (
	OutcomeStored  = "stored"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// MetricRecorder records batch, item and verification metrics.
type MetricRecorder interface {
	// RecordBatchStart records that a batch was claimed by an executor.
	RecordBatchStart(ctx context.Context, batch *model.Batch)

	// RecordBatchEnd records a terminal batch and how long the attempt ran.
	//
	// ctx: The context for the operation.
	// batch: The batch in its terminal state.
	// duration: Wall time of the executor invocation.
	RecordBatchEnd(ctx context.Context, batch *model.Batch, duration time.Duration)

	// RecordItem records one item outcome (OutcomeStored, OutcomeFailed or OutcomeSkipped).
	RecordItem(ctx context.Context, rt model.ResourceType, outcome string)

	// RecordVerification records one record verdict.
	RecordVerification(ctx context.Context, rt model.ResourceType, verified bool)

	// RecordProcessStatus records a process status change.
	RecordProcessStatus(ctx context.Context, process *model.Process)

	// RecordDuration records the execution time of a named operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
