package queue

import (
	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/engine/step/retry"
)

// NewQueueFromConfig builds the queue from queue.* and ties it to the fx lifecycle.
// Workers start after every OnStart hook registered before this one, so
// handlers are registered by then.
func NewQueueFromConfig(lc fx.Lifecycle, cfg *config.Config) *MemoryQueue {
	qc := cfg.Caseflow.Queue
	q := NewMemoryQueue(Options{
		Workers:         qc.Workers,
		BufferSize:      qc.BufferSize,
		DeadLetterLimit: qc.DeadLetterLimit,
	}, retry.NewPolicyFromConfig(cfg))
	lc.Append(fx.Hook{
		OnStart: q.Start,
		OnStop:  q.Stop,
	})
	return q
}

// Module provides *MemoryQueue and exposes it as port.JobQueue.
var Module = fx.Options(
	fx.Provide(
		NewQueueFromConfig,
		func(q *MemoryQueue) port.JobQueue { return q },
	),
)
