package verification

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/caseflow/pkg/batch/core/metrics"
)

// Params are the dependencies of the fx constructors.
type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Processes repository.Process
	Records   repository.Record
	Source    port.SourceClient
	Progress  port.ProgressStore
	Tracer    metrics.Tracer
	Listeners []port.VerificationListener `group:"verificationListeners"`
}

// NewEngineFromParams builds the engine and stops its runs on shutdown.
func NewEngineFromParams(p Params) *Engine {
	vc := p.Config.Caseflow.Verification
	e := NewEngine(p.Processes, p.Records, p.Source, p.Progress, p.Tracer, Options{
		ChunkSize:       vc.ChunkSize,
		ProgressEvery:   vc.ProgressEvery,
		ProgressTTL:     time.Duration(vc.ProgressTTLSeconds) * time.Second,
		QuickSampleSize: vc.QuickSampleSize,
	})
	for _, l := range p.Listeners {
		if l != nil {
			e.RegisterListener(l)
		}
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return e.Stop(ctx) },
	})
	return e
}

// NewWatchdogFromConfig builds the watchdog over the engine's progress store.
func NewWatchdogFromConfig(e *Engine, store port.ProgressStore, cfg *config.Config) *Watchdog {
	vc := cfg.Caseflow.Verification
	return NewWatchdog(e, store, time.Duration(vc.StaleAfterSeconds)*time.Second, vc.AutoRecover)
}

// Module provides *Engine and *Watchdog.
var Module = fx.Options(
	fx.Provide(NewEngineFromParams, NewWatchdogFromConfig),
)
