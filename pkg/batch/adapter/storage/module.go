package storage

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
)

// NewProviderWithLifecycle provides a Provider whose connections close on shutdown.
func NewProviderWithLifecycle(lc fx.Lifecycle, cfg *config.Config) *Provider {
	p := NewProvider(cfg)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return p.CloseAll() },
	})
	return p
}

// Module provides *Provider. Backends register themselves when their
// subpackage is imported.
var Module = fx.Provide(NewProviderWithLifecycle)
