package metrics

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/caseflow/pkg/batch/core/application/port"
)

// Module decorates the backend MetricRecorder provided by
// infrastructure/metrics and feeds it from the listener groups.
var Module = fx.Options(
	fx.Decorate(NewAsyncMetricRecorderWrapper),
	fx.Provide(
		fx.Annotate(NewMetricsBatchListener, fx.As(new(port.BatchListener)), fx.ResultTags(`group:"batchListeners"`)),
		fx.Annotate(NewMetricsItemListener, fx.As(new(port.ItemListener)), fx.ResultTags(`group:"itemListeners"`)),
		fx.Annotate(NewMetricsVerificationListener, fx.As(new(port.VerificationListener)), fx.ResultTags(`group:"verificationListeners"`)),
	),
)
