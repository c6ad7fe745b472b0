package metrics

import (
	"go.uber.org/fx"
)

// Module provides the no-op MetricRecorder and Tracer. Applications that
// export metrics use the infrastructure metrics module instead.
var Module = fx.Options(
	fx.Provide(
		NewNoOpMetricRecorder,
		NewNoOpTracer,
	),
)
