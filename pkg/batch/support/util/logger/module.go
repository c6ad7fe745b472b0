package logger

import "go.uber.org/fx"

// Module installs the zap-backed fx event logger.
var Module = fx.Options(
	fx.WithLogger(NewFxLogger),
)
