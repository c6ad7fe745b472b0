package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := current()
	SetLogger(zap.New(core))
	t.Cleanup(func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	})
	return logs
}

func TestFormattedLevels(t *testing.T) {
	logs := observe(t)

	Infof("batch %d of %d", 3, 10)
	Warnf("slow source: %s", "api")
	Errorf("boom")

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "batch 3 of 10", entries[0].Message)
		assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	}
}

func TestWithAttachesFields(t *testing.T) {
	logs := observe(t)

	With("process_id", "p-1").With("batch", 2).Infof("claimed")

	entries := logs.FilterMessage("claimed").All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "p-1", ctx["process_id"])
		assert.EqualValues(t, 2, ctx["batch"])
	}
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel("INFO")

	SetLogLevel("debug")
	assert.Equal(t, "DEBUG", Level())

	SetLogLevel("error")
	assert.Equal(t, "ERROR", Level())

	SetLogLevel("nonsense")
	assert.Equal(t, "INFO", Level())
}
