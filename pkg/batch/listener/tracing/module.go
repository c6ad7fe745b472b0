package tracing

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/caseflow/pkg/batch/core/application/port"
)

// Module provides the tracing listeners. The Tracer itself comes from
// infrastructure/metrics.
var Module = fx.Provide(
	fx.Annotate(NewTracingBatchListener, fx.As(new(port.BatchListener)), fx.ResultTags(`group:"batchListeners"`)),
	fx.Annotate(NewTracingItemListener, fx.As(new(port.ItemListener)), fx.ResultTags(`group:"itemListeners"`)),
)
