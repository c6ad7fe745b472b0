package logger

import (
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewFxLogger routes fx container events into the shared zap logger.
// Lifecycle chatter is emitted at DEBUG, failures at ERROR.
func NewFxLogger() fxevent.Logger {
	z := current().Desugar().WithOptions(zap.AddCallerSkip(-1)).Named("fx")
	l := &fxevent.ZapLogger{Logger: z}
	l.UseLogLevel(zapcore.DebugLevel)
	l.UseErrorLevel(zapcore.ErrorLevel)
	return l
}
