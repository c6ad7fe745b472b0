package migration

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// NewDefaultMigrator creates a Migrator for the default connection.
func NewDefaultMigrator(conn database.DBConnection) Migrator {
	return NewMigrator(conn.Config())
}

// RunOnStart registers a start hook that applies pending migrations when
// infrastructure.migrate is enabled.
func RunOnStart(lc fx.Lifecycle, m Migrator, cfg *config.Config) {
	if !cfg.Caseflow.Infrastructure.Migrate {
		logger.Infof("Schema migration disabled.")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Up(ctx)
		},
	})
}

// Module provides the migrator and applies the schema at startup.
var Module = fx.Options(
	fx.Provide(NewDefaultMigrator),
	fx.Invoke(RunOnStart),
)
