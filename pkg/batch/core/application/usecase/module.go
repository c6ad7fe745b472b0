package usecase

import (
	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/component/partitioner"
	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
)

// OperatorParams are the dependencies of NewProcessOperatorFromConfig.
type OperatorParams struct {
	fx.In
	Config    *config.Config
	Processes repository.Process
	Batches   repository.Batch
	Records   repository.Record
	Source    port.SourceClient
	Planner   *partitioner.Planner
	Queue     port.JobQueue
	Progress  port.ProgressStore     `optional:"true"`
	Recorder  metrics.MetricRecorder `optional:"true"`
}

// NewProcessOperatorFromConfig builds the operator from the batch and queue settings.
func NewProcessOperatorFromConfig(p OperatorParams) *DefaultProcessOperator {
	cf := p.Config.Caseflow
	return NewDefaultProcessOperator(p.Processes, p.Batches, p.Records, p.Source, p.Planner, p.Queue, p.Progress, p.Recorder, Options{
		QueueName:          cf.Queue.Name,
		DefaultBatchSize:   cf.Batch.DefaultBatchSize,
		MaxBatchSize:       cf.Batch.MaxBatchSize,
		DefaultConcurrency: cf.Batch.DefaultConcurrency,
		MaxAttempts:        cf.Queue.Retry.MaxAttempts,
	})
}

// Module provides the process operator under its interfaces and registers it
// as a batch listener.
var Module = fx.Options(
	fx.Provide(NewProcessOperatorFromConfig),
	fx.Provide(
		func(o *DefaultProcessOperator) ProcessOperator { return o },
		func(o *DefaultProcessOperator) ProcessExplorer { return o },
	),
	fx.Provide(fx.Annotate(
		func(o *DefaultProcessOperator) port.BatchListener { return o },
		fx.ResultTags(`group:"batchListeners"`),
	)),
)
