package executor

import (
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
)

// Params are the dependencies of the fx constructor.
type Params struct {
	fx.In
	Config         *config.Config
	Processes      repository.Process
	Batches        repository.Batch
	Records        repository.Record
	Source         port.SourceClient
	Progress       port.ProgressStore
	Tracer         metrics.Tracer
	BatchListeners []port.BatchListener `group:"batchListeners"`
	ItemListeners  []port.ItemListener  `group:"itemListeners"`
}

// NewExecutorFromParams builds the executor and registers the grouped listeners.
func NewExecutorFromParams(p Params) *Executor {
	bc := p.Config.Caseflow.Batch
	e := NewExecutor(p.Processes, p.Batches, p.Records, p.Source, p.Progress, p.Tracer, Options{
		ItemConcurrency: bc.ItemConcurrency,
		HeartbeatTTL:    time.Duration(p.Config.Caseflow.Verification.ProgressTTLSeconds) * time.Second,
	})
	for _, l := range p.BatchListeners {
		if l != nil {
			e.RegisterBatchListener(l)
		}
	}
	for _, l := range p.ItemListeners {
		if l != nil {
			e.RegisterItemListener(l)
		}
	}
	return e
}

// RegisterHandler binds the executor to the batch queue.
func RegisterHandler(q port.JobQueue, e *Executor, cfg *config.Config) {
	q.Register(cfg.Caseflow.Queue.Name, e.Handle)
}

// Module provides *Executor and registers it as the batch queue handler.
var Module = fx.Options(
	fx.Provide(NewExecutorFromParams),
	fx.Invoke(RegisterHandler),
)
