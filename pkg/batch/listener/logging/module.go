package logging

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/caseflow/pkg/batch/core/application/port"
)

// Module provides the logging listeners to the listener groups.
var Module = fx.Provide(
	fx.Annotate(NewLoggingBatchListener, fx.As(new(port.BatchListener)), fx.ResultTags(`group:"batchListeners"`)),
	fx.Annotate(NewLoggingItemListener, fx.As(new(port.ItemListener)), fx.ResultTags(`group:"itemListeners"`)),
	fx.Annotate(NewLoggingVerificationListener, fx.As(new(port.VerificationListener)), fx.ResultTags(`group:"verificationListeners"`)),
)
