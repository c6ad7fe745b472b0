// Package logger provides the process-wide logger used by caseflow.
// It keeps a printf-style package API and writes structured JSON through zap.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newSugared(level)
)

func newSugared(lvl zap.AtomicLevel) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: falling back to a no-op logger: %v\n", err)
		return zap.NewNop().Sugar()
	}
	return z.Sugar()
}

// SetLogLevel changes the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR" and "FATAL" (case-insensitive).
// Unknown values fall back to INFO.
func SetLogLevel(lvl string) {
	switch strings.ToUpper(strings.TrimSpace(lvl)) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN", "WARNING":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "FATAL":
		level.SetLevel(zapcore.FatalLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
		Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", lvl)
	}
}

// Level returns the current global level as an upper-case string.
func Level() string {
	return strings.ToUpper(level.Level().String())
}

// SetLogger replaces the underlying zap logger. Intended for tests that
// capture output with zaptest/observer.
func SetLogger(z *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = z.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered log entries.
func Sync() error {
	return current().Sync()
}

// Debugf logs a formatted DEBUG message.
func Debugf(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Infof logs a formatted INFO message.
func Infof(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warnf logs a formatted WARN message.
func Warnf(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Errorf logs a formatted ERROR message.
func Errorf(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatalf logs a formatted FATAL message and exits with status 1.
func Fatalf(format string, v ...interface{}) {
	current().Fatalf(format, v...)
}

// Scoped is a logger carrying a fixed set of key/value fields.
type Scoped struct {
	s *zap.SugaredLogger
}

// With returns a logger that attaches kv to every entry.
// kv is a flat list of alternating keys and values.
func With(kv ...interface{}) *Scoped {
	return &Scoped{s: current().With(kv...)}
}

// With appends more fields to a scoped logger.
func (l *Scoped) With(kv ...interface{}) *Scoped {
	return &Scoped{s: l.s.With(kv...)}
}

func (l *Scoped) Debugf(format string, v ...interface{}) { l.s.Debugf(format, v...) }
func (l *Scoped) Infof(format string, v ...interface{})  { l.s.Infof(format, v...) }
func (l *Scoped) Warnf(format string, v ...interface{})  { l.s.Warnf(format, v...) }
func (l *Scoped) Errorf(format string, v ...interface{}) { l.s.Errorf(format, v...) }
